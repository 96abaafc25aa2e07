package streamauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// Capabilities describes what the runtime's stream implementation can do.
type Capabilities struct {
	// HeaderStreams reports whether custom headers (such as Authorization)
	// can be attached to the request that opens a stream.
	HeaderStreams bool
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets the logger used to report capability downgrades.
func WithLogger(l *slog.Logger) Option {
	return func(i *Injector) { i.log = l }
}

// Injector opens streams, attaching bearer credentials when the declared
// capabilities allow it.
type Injector struct {
	opener Opener
	caps   Capabilities
	log    *slog.Logger
}

// NewInjector returns an Injector over opener.
func NewInjector(opener Opener, caps Capabilities, opts ...Option) *Injector {
	i := &Injector{opener: opener, caps: caps, log: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Open opens url with header. When header-carrying streams are unsupported
// the header is dropped and a plain stream is opened instead; this is not
// reported as an error.
func (i *Injector) Open(ctx context.Context, url string, header http.Header) (Stream, error) {
	if !i.caps.HeaderStreams && len(header) > 0 {
		i.log.DebugContext(ctx, "stream.headers.unsupported", slog.Int("dropped", len(header)))
		header = nil
	}
	return i.opener.Open(ctx, url, header)
}

// OpenWithToken opens url with an Authorization header built from a token
// obtained from ts. No token is requested when headers cannot be attached.
func (i *Injector) OpenWithToken(ctx context.Context, url string, ts oauth2.TokenSource) (Stream, error) {
	if ts == nil {
		return nil, errors.New("streamauth: token source is required")
	}
	if !i.caps.HeaderStreams {
		i.log.DebugContext(ctx, "stream.headers.unsupported", slog.String("dropped", "authorization"))
		return i.opener.Open(ctx, url, nil)
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("streamauth: obtain token: %w", err)
	}
	h := make(http.Header)
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return i.opener.Open(ctx, url, h)
}

// BearerHeader returns a header set carrying token as a bearer credential.
func BearerHeader(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	return h
}
