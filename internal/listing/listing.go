// Package listing manages the seller catalog: items, stock, and status.
//
// Stock checks and decrements for purchases are driven by the order
// engine inside its transactional scope; this package owns everything
// else about a listing's life.
package listing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playstash/playstash/internal/idgen"
	"github.com/playstash/playstash/internal/money"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrNotSeller       = errors.New("only the listing's seller may do this")
	ErrInvalidListing  = errors.New("invalid listing")
	ErrInvalidStatus   = errors.New("invalid listing status for this operation")
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusSoldOut  Status = "sold_out"
	StatusArchived Status = "archived"
)

// Category classifies what kind of digital good is being sold.
type Category string

const (
	CategoryAccount  Category = "account"
	CategoryItem     Category = "item"
	CategoryCurrency Category = "currency"
	CategoryTopUp    Category = "topup"
	CategoryGiftCard Category = "gift_card"
	CategoryBoosting Category = "boosting"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryAccount, CategoryItem, CategoryCurrency, CategoryTopUp, CategoryGiftCard, CategoryBoosting:
		return true
	}
	return false
}

// Listing is a seller-owned catalog item.
type Listing struct {
	ID          string          `json:"id"`
	SellerID    string          `json:"sellerId"`
	Game        string          `json:"game"`
	Category    Category        `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Stock       int             `json:"stock"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Store persists listings.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Listing, error)
}

// Service implements catalog business logic.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new listing service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	SellerID    string `json:"-"`
	Game        string `json:"game" binding:"required"`
	Category    string `json:"category" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	UnitPrice   string `json:"unitPrice" binding:"required"`
	Stock       int    `json:"stock"`
}

// Create validates and stores a new active listing.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Listing, error) {
	price, err := money.ParsePositive(req.UnitPrice)
	if err != nil {
		return nil, ErrInvalidListing
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Game) == "" {
		return nil, ErrInvalidListing
	}
	if !ValidCategory(Category(req.Category)) {
		return nil, ErrInvalidListing
	}
	if req.Stock < 0 {
		return nil, ErrInvalidListing
	}
	stock := req.Stock
	if stock == 0 {
		stock = 1
	}

	now := s.now()
	l := &Listing{
		ID:          idgen.WithPrefix("lst_"),
		SellerID:    req.SellerID,
		Game:        strings.TrimSpace(req.Game),
		Category:    Category(req.Category),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		UnitPrice:   price,
		Stock:       stock,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// Restock adds units. A sold-out listing flips back to active.
func (s *Service) Restock(ctx context.Context, id, sellerID string, units int) (*Listing, error) {
	if units < 1 {
		return nil, ErrInvalidListing
	}
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status == StatusArchived {
		return nil, ErrInvalidStatus
	}

	l.Stock += units
	if l.Status == StatusSoldOut {
		l.Status = StatusActive
	}
	l.UpdatedAt = s.now()
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Pause takes an active listing off the market without losing stock.
func (s *Service) Pause(ctx context.Context, id, sellerID string) (*Listing, error) {
	return s.transition(ctx, id, sellerID, StatusActive, StatusPaused)
}

// Resume reactivates a paused listing.
func (s *Service) Resume(ctx context.Context, id, sellerID string) (*Listing, error) {
	return s.transition(ctx, id, sellerID, StatusPaused, StatusActive)
}

// Archive permanently retires a listing. Any status but archived.
func (s *Service) Archive(ctx context.Context, id, sellerID string) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status == StatusArchived {
		return nil, ErrInvalidStatus
	}
	l.Status = StatusArchived
	l.UpdatedAt = s.now()
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// ListActive returns listings currently purchasable.
func (s *Service) ListActive(ctx context.Context, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, StatusActive, limit)
}

// ListBySeller returns a seller's listings.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

func (s *Service) transition(ctx context.Context, id, sellerID string, from, to Status) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status != from {
		return nil, ErrInvalidStatus
	}
	l.Status = to
	l.UpdatedAt = s.now()
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}
