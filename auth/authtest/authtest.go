// Package authtest provides auth.Authenticator fakes for tests and local
// development.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ggoodman/humanneeded-go/auth"
)

// StaticTokens accepts a fixed set of tokens, each mapped to a user.
type StaticTokens struct {
	Users map[string]User
	calls atomic.Int64
}

// User describes the principal behind a static token.
type User struct {
	ID     string
	Claims map[string]any
}

// NewStaticTokens returns an authenticator accepting tokens from the
// token -> user id map.
func NewStaticTokens(tokens map[string]string) *StaticTokens {
	users := make(map[string]User, len(tokens))
	for tok, id := range tokens {
		users[tok] = User{ID: id}
	}
	return &StaticTokens{Users: users}
}

// CheckAuthentication implements auth.Authenticator.
func (s *StaticTokens) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	s.calls.Add(1)
	u, ok := s.Users[tok]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return userInfo{u: u}, nil
}

// Calls returns how many times CheckAuthentication ran.
func (s *StaticTokens) Calls() int { return int(s.calls.Load()) }

type userInfo struct{ u User }

func (u userInfo) UserID() string { return u.u.ID }

func (u userInfo) Claims(ref any) error {
	if u.u.Claims == nil {
		return nil
	}
	b, err := json.Marshal(u.u.Claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
