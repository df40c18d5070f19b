package audit

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
)

// ErrInvalidEntry is returned when an entry fails validation.
var ErrInvalidEntry = errors.New("audit: invalid entry")

// Store defines the persistence operations required for the discount ledger.
type Store interface {
	InsertDiscountApplication(ctx context.Context, entry Entry) error
	ListDiscountApplications(ctx context.Context, bagID string, limit, offset int) ([]Entry, error)
}

// Service persists discount applications.
type Service struct {
	Store    Store
	Validate *validator.Validate
	Enabled  bool
}

// Record validates and stores the entry when auditing is enabled.
func (s Service) Record(ctx context.Context, entry Entry) error {
	if !s.Enabled {
		return nil
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	v := s.Validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(entry); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return s.Store.InsertDiscountApplication(ctx, entry)
}

// List returns the recorded applications of a bag, newest first.
func (s Service) List(ctx context.Context, bagID string, limit, offset int) ([]Entry, error) {
	if s.Store == nil {
		return nil, errors.New("audit: store not configured")
	}
	return s.Store.ListDiscountApplications(ctx, bagID, limit, offset)
}
