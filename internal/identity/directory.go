package identity

import (
	"context"
	"strings"

	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/pkg/schema"
)

// Directory looks up contact details for users. Lookups are best-effort:
// callers treat any error as "no email".
type Directory interface {
	LookupEmail(ctx context.Context, orgID, userID string) (string, error)
}

// StoreDirectory resolves users from the store's users table.
type StoreDirectory struct {
	store store.Store
}

// NewStoreDirectory returns a Directory backed by s.
func NewStoreDirectory(s store.Store) *StoreDirectory {
	return &StoreDirectory{store: s}
}

// LookupEmail returns the email of userID. A user registered under another
// organization is reported as not found.
func (d *StoreDirectory) LookupEmail(ctx context.Context, orgID, userID string) (string, error) {
	if userID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "user id is required")
	}
	u, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if orgID != "" && u.OrgID != orgID {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "user %q not found", userID)
	}
	return u.Email, nil
}

// ValidateUser checks required fields on a User before it is stored.
func ValidateUser(u *schema.User) error {
	if u.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "user id is required")
	}
	if u.OrgID == "" {
		return schema.NewError(schema.ErrCodeValidation, "user org_id is required")
	}
	if !strings.Contains(u.Email, "@") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid email %q", u.Email)
	}
	return nil
}

// Register validates and upserts u.
func Register(ctx context.Context, s store.Store, u *schema.User) error {
	if err := ValidateUser(u); err != nil {
		return err
	}
	return s.UpsertUser(ctx, u)
}
