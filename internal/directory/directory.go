// Package directory resolves user identities and profiles. The chat engine
// treats it as an external collaborator: it only ever asks for profiles by
// id. The gateway additionally uses it for registration and login.
package directory

import (
	"context"
	"errors"
)

var (
	ErrUserExists         = errors.New("directory: user already exists")
	ErrUserNotFound       = errors.New("directory: user not found")
	ErrInvalidCredentials = errors.New("directory: invalid credentials")
)

// Profile is the denormalized display identity of one user. Immutable once
// created; other components reference it by ID and copy display fields only
// where the data model calls for denormalization.
type Profile struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// Resolver is the narrow read-side surface the chat engine depends on.
type Resolver interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
}

// Directory is the full account surface the gateway wires up.
type Directory interface {
	Resolver
	Register(ctx context.Context, email, password, profileImageURL string) (Profile, error)
	Authenticate(ctx context.Context, email, password string) (Profile, error)
	// ListUsers returns every profile except the caller's, for the
	// new-conversation picker.
	ListUsers(ctx context.Context, exceptID string) ([]Profile, error)
}
