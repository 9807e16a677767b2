package auth

import (
	"context"
	"errors"
	"fmt"

	"device-relay-backend/internal/model"
	"device-relay-backend/internal/store"
)

// AdminStore is the part of the store used for seeding.
type AdminStore interface {
	EnsureAdmin(ctx context.Context, admin *model.Admin) error
	GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error)
}

// SeedAdmin makes sure the configured admin exists with a hash of the
// configured password. An existing record whose hash still matches is left
// untouched.
func SeedAdmin(ctx context.Context, st AdminStore, identity Identity) (*model.Admin, error) {
	existing, err := st.GetAdminByUsername(ctx, identity.Username)
	switch {
	case err == nil:
		if ok, verr := VerifyPassword(existing.PasswordHash, identity.Password); verr == nil && ok {
			return existing, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := HashPassword(identity.Password)
	if err != nil {
		return nil, err
	}
	admin := &model.Admin{ID: identity.AdminID, Username: identity.Username, PasswordHash: hash}
	if existing != nil {
		admin.ID = existing.ID
	}
	if err := st.EnsureAdmin(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}
