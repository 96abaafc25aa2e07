package notifications

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/ggoodman/humanneeded-go/internal/logctx"
	"github.com/ggoodman/humanneeded-go/streamauth"
	"golang.org/x/oauth2"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	logger      *slog.Logger
	httpClient  *http.Client
	opener      streamauth.Opener
	caps        streamauth.Capabilities
	tokenSource oauth2.TokenSource
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithHTTPClient sets the HTTP client used by the default opener.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithOpener replaces the stream opener. Mostly useful in tests.
func WithOpener(o streamauth.Opener) Option {
	return func(c *clientConfig) { c.opener = o }
}

// WithCapabilities declares what the stream implementation supports. By
// default header-carrying streams are assumed to be available.
func WithCapabilities(caps streamauth.Capabilities) Option {
	return func(c *clientConfig) { c.caps = caps }
}

// WithTokenSource sets the token source used when a Request carries no
// explicit token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *clientConfig) { c.tokenSource = ts }
}

// Client opens human-needed subscriptions against one API base URL.
type Client struct {
	base     string
	log      *slog.Logger
	opener   streamauth.Opener
	injector *streamauth.Injector
	ts       oauth2.TokenSource
}

// New returns a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := EndpointURL(baseURL, ""); err != nil {
		return nil, err
	}

	cfg := &clientConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		caps:   streamauth.Capabilities{HeaderStreams: true},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.opener == nil {
		cfg.opener = streamauth.HTTPOpener{Client: cfg.httpClient}
	}

	log := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})
	return &Client{
		base:     baseURL,
		log:      log,
		opener:   cfg.opener,
		injector: streamauth.NewInjector(cfg.opener, cfg.caps, streamauth.WithLogger(log)),
		ts:       cfg.tokenSource,
	}, nil
}

// Request describes one subscription. It must not be modified after it is
// passed to Subscribe.
type Request struct {
	// Token is an optional bearer token. It takes precedence over the
	// client's token source.
	Token string
	// AssistantID optionally scopes the stream to one assistant.
	AssistantID string
	// OnMessage receives initial and update events. Required.
	OnMessage MessageHandler
	// OnError receives server error events and transport failures.
	OnError ErrorHandler
}

// Subscribe opens the stream and starts dispatching events. The connection
// is established before Subscribe returns; a failure to connect is returned
// directly rather than through OnError. Cancelling ctx ends the
// subscription like Close.
func (c *Client) Subscribe(ctx context.Context, req Request) (*Subscription, error) {
	if req.OnMessage == nil {
		return nil, ErrNoMessageHandler
	}

	u, err := EndpointURL(c.base, req.AssistantID)
	if err != nil {
		return nil, err
	}

	ctx = logctx.WithSubscriptionData(ctx, &logctx.SubscriptionData{AssistantID: req.AssistantID, URL: u})
	subCtx, cancel := context.WithCancel(ctx)

	ts := c.ts
	if req.Token != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: req.Token, TokenType: "Bearer"})
	}

	var stream streamauth.Stream
	if ts != nil {
		stream, err = c.injector.OpenWithToken(subCtx, u, ts)
	} else {
		stream, err = c.opener.Open(subCtx, u, nil)
	}
	if err != nil {
		cancel()
		c.log.WarnContext(ctx, "sse.subscribe.fail", slog.String("err", err.Error()))
		return nil, err
	}
	c.log.InfoContext(ctx, "sse.subscribe.ok")

	s := newSubscription(u, stream, cancel, c.log)
	go s.run(subCtx, req)
	return s, nil
}
