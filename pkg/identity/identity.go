// Package identity resolves principals to display names and email addresses
// through the end-user identity platform.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"idsimplify/pkg/apperr"
)

// User is what the platform knows about a principal.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Platform looks principals up. Both lookups wrap apperr.ErrUserNotFound
// when the platform has no such user.
type Platform interface {
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// Static is an in-process Platform for development and tests.
type Static struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]User
}

// NewStatic builds a Static platform seeded with users.
func NewStatic(users ...User) *Static {
	s := &Static{byID: map[string]User{}, byEmail: map[string]User{}}
	for _, u := range users {
		s.Add(u)
	}
	return s
}

// Add registers or replaces u.
func (s *Static) Add(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = u
	s.byEmail[strings.ToLower(u.Email)] = u
}

func (s *Static) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, fmt.Errorf("identity %s: %w", id, apperr.ErrUserNotFound)
	}
	return u, nil
}

func (s *Static) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, fmt.Errorf("identity by email: %w", apperr.ErrUserNotFound)
	}
	return u, nil
}

// ParseStatic reads "id|name|email" entries separated by commas, the format
// of IDS_STATIC_USERS.
func ParseStatic(raw string) ([]User, error) {
	var out []User
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid static user %q", entry)
		}
		out = append(out, User{ID: parts[0], Name: parts[1], Email: parts[2]})
	}
	return out, nil
}
