package streamauth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/humanneeded-go/streamauth"
	"github.com/ggoodman/humanneeded-go/streamauth/streamtest"
	"golang.org/x/oauth2"
)

type failingTokenSource struct{ err error }

func (f failingTokenSource) Token() (*oauth2.Token, error) { return nil, f.err }

func TestInjector_AttachesBearerWhenSupported(t *testing.T) {
	op := streamtest.NewOpener(streamtest.NewStream())
	inj := streamauth.NewInjector(op, streamauth.Capabilities{HeaderStreams: true})

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"})
	if _, err := inj.OpenWithToken(context.Background(), "http://example.test/sse", ts); err != nil {
		t.Fatalf("open: %v", err)
	}
	calls := op.Calls()
	if len(calls) != 1 {
		t.Fatalf("want 1 open, got %d", len(calls))
	}
	if got := calls[0].Header.Get("Authorization"); got != "Bearer t" {
		t.Fatalf("want bearer header, got %q", got)
	}
}

func TestInjector_DegradesWithoutHeaderSupport(t *testing.T) {
	op := streamtest.NewOpener(streamtest.NewStream())
	inj := streamauth.NewInjector(op, streamauth.Capabilities{HeaderStreams: false})

	if _, err := inj.Open(context.Background(), "http://example.test/sse", streamauth.BearerHeader("t")); err != nil {
		t.Fatalf("open should not fail when headers are unsupported: %v", err)
	}
	// The token source must not even be consulted.
	ts := failingTokenSource{err: errors.New("should not be called")}
	if _, err := inj.OpenWithToken(context.Background(), "http://example.test/sse", ts); err != nil {
		t.Fatalf("open with token should degrade silently: %v", err)
	}
	for i, c := range op.Calls() {
		if len(c.Header) != 0 {
			t.Fatalf("call %d carried headers %v", i, c.Header)
		}
	}
}

func TestInjector_TokenFailure(t *testing.T) {
	op := streamtest.NewOpener(streamtest.NewStream())
	inj := streamauth.NewInjector(op, streamauth.Capabilities{HeaderStreams: true})

	boom := errors.New("boom")
	_, err := inj.OpenWithToken(context.Background(), "http://example.test/sse", failingTokenSource{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped token error, got %v", err)
	}
	if len(op.Calls()) != 0 {
		t.Fatalf("no stream should be opened without a token")
	}
}
