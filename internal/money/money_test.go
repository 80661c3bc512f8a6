package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestQuantize_HalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1.00"},
		{"2.675", "2.68"},
		{"0.125", "0.13"},
		{"10", "10.00"},
	}
	for _, tc := range cases {
		got := Quantize(dec(t, tc.in))
		assert.Equal(t, tc.want, Format(got), "quantize %s", tc.in)
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("500.00")
	require.NoError(t, err)
	assert.Equal(t, "500.00", Format(d))

	d, err = Parse(" 12.5 ")
	require.NoError(t, err)
	assert.Equal(t, "12.50", Format(d))

	for _, bad := range []string{"", "abc", "1.234", "1,000"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", bad)
	}
}

func TestParsePositive(t *testing.T) {
	_, err := ParsePositive("0")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParsePositive("-5.00")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	d, err := ParsePositive("0.01")
	require.NoError(t, err)
	assert.Equal(t, "0.01", Format(d))
}

func TestTotal(t *testing.T) {
	got := Total(dec(t, "500.00"), 2)
	assert.Equal(t, "1000.00", Format(got))

	got = Total(dec(t, "33.33"), 3)
	assert.Equal(t, "99.99", Format(got))
}

func TestFee(t *testing.T) {
	feePct := dec(t, "5.00")

	// Standard 5% fee.
	assert.Equal(t, "50.00", Format(Fee(dec(t, "1000.00"), feePct)))

	// Rounds half-up: 5% of 0.10 = 0.005 -> 0.01.
	assert.Equal(t, "0.01", Format(Fee(dec(t, "0.10"), feePct)))

	// Clamped to total.
	assert.Equal(t, "1.00", Format(Fee(dec(t, "1.00"), dec(t, "250.00"))))

	// Negative percent clamps to zero.
	assert.Equal(t, "0.00", Format(Fee(dec(t, "100.00"), dec(t, "-5.00"))))
}
