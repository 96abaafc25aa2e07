package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/humanneeded-go/auth"
	"github.com/ggoodman/humanneeded-go/auth/authtest"
)

type expiringUser struct {
	id  string
	exp time.Time
}

func (u expiringUser) UserID() string       { return u.id }
func (u expiringUser) ExpiresAt() time.Time { return u.exp }
func (u expiringUser) Claims(any) error     { return nil }

func TestCaching_RemembersSuccess(t *testing.T) {
	inner := authtest.NewStaticTokens(map[string]string{"good": "u1"})
	a := auth.NewCaching(inner, 8)

	for i := 0; i < 3; i++ {
		ui, err := a.CheckAuthentication(context.Background(), "good")
		if err != nil || ui.UserID() != "u1" {
			t.Fatalf("check %d: %v %v", i, ui, err)
		}
	}
	if inner.Calls() != 1 {
		t.Fatalf("want 1 upstream validation, got %d", inner.Calls())
	}
}

func TestCaching_DoesNotCacheFailures(t *testing.T) {
	inner := authtest.NewStaticTokens(nil)
	a := auth.NewCaching(inner, 8)

	for i := 0; i < 2; i++ {
		if _, err := a.CheckAuthentication(context.Background(), "bad"); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	}
	if inner.Calls() != 2 {
		t.Fatalf("failures must not be cached, got %d calls", inner.Calls())
	}
}

func TestCaching_HonoursExpiry(t *testing.T) {
	calls := 0
	inner := auth.AuthenticatorFunc(func(ctx context.Context, tok string) (auth.UserInfo, error) {
		calls++
		return expiringUser{id: "u", exp: time.Now().Add(-time.Second)}, nil
	})
	a := auth.NewCaching(inner, 8)

	_, _ = a.CheckAuthentication(context.Background(), "t")
	_, _ = a.CheckAuthentication(context.Background(), "t")
	if calls != 2 {
		t.Fatalf("expired validations must not be served from cache, got %d calls", calls)
	}
}

func TestCaching_DisabledForZeroSize(t *testing.T) {
	inner := authtest.NewStaticTokens(map[string]string{"good": "u1"})
	if a := auth.NewCaching(inner, 0); a != auth.Authenticator(inner) {
		t.Fatalf("size 0 should return the inner authenticator")
	}
}
