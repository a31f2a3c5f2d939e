package directory

import (
	"context"
	"fmt"
	"sync"

	"mirrorchat/internal/auth"
	"mirrorchat/internal/normalize"
)

// Memory is an in-process directory used by tests and local development.
type Memory struct {
	mu     sync.Mutex
	byID   map[string]memoryUser
	nextID int
}

type memoryUser struct {
	profile  Profile
	password string // bcrypt hash
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]memoryUser)}
}

// Register creates an account with a sequential id.
func (d *Memory) Register(ctx context.Context, email, password, profileImageURL string) (Profile, error) {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return Profile{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	email = normalize.Email(email)
	for _, u := range d.byID {
		if u.profile.Email == email {
			return Profile{}, ErrUserExists
		}
	}
	d.nextID++
	p := Profile{
		ID:              fmt.Sprintf("u%d", d.nextID),
		Email:           email,
		ProfileImageURL: profileImageURL,
	}
	d.byID[p.ID] = memoryUser{profile: p, password: hashed}
	return p, nil
}

// Authenticate verifies email/password.
func (d *Memory) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	email = normalize.Email(email)
	for _, u := range d.byID {
		if u.profile.Email == email {
			if err := auth.CheckPassword(u.password, password); err != nil {
				return Profile{}, ErrInvalidCredentials
			}
			return u.profile, nil
		}
	}
	return Profile{}, ErrUserNotFound
}

// GetProfile finds a user by id.
func (d *Memory) GetProfile(ctx context.Context, id string) (Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byID[id]
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return u.profile, nil
}

// ListUsers returns every profile except the caller's.
func (d *Memory) ListUsers(ctx context.Context, exceptID string) ([]Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	profiles := make([]Profile, 0, len(d.byID))
	for id, u := range d.byID {
		if id == exceptID {
			continue
		}
		profiles = append(profiles, u.profile)
	}
	return profiles, nil
}

// Put inserts a profile directly, bypassing password handling. Test helper.
func (d *Memory) Put(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[p.ID] = memoryUser{profile: p}
}
