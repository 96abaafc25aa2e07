package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/humanneeded-go/alerts"
	"github.com/ggoodman/humanneeded-go/auth"
	"github.com/ggoodman/humanneeded-go/internal/logctx"
	"github.com/ggoodman/humanneeded-go/notifications"
	"github.com/ggoodman/humanneeded-go/sse"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// AlertsPath is the collection used to raise and resolve alerts.
	AlertsPath = "/notifications/human-needed"

	// DefaultHeartbeat is the interval between keep-alive comments.
	DefaultHeartbeat = 15 * time.Second

	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	maxAlertBody = 64 << 10
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithRealm sets the HTTP authentication realm advertised in WWW-Authenticate
// challenges. If empty (default), the realm attribute is omitted.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.realm = strings.TrimSpace(realm) }
}

// WithHeartbeat sets the keep-alive interval. Zero or negative disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) { h.heartbeat = d }
}

// WithConnectionRate limits how fast new streams may be opened across the
// whole handler. Requests over the limit get 429.
func WithConnectionRate(limit rate.Limit, burst int) Option {
	return func(h *Handler) { h.limiter = rate.NewLimiter(limit, burst) }
}

// Handler serves the human-needed alert routes.
type Handler struct {
	mux       *http.ServeMux
	svc       *alerts.Service
	auth      auth.Authenticator
	log       *slog.Logger
	realm     string
	heartbeat time.Duration
	limiter   *rate.Limiter
}

// New returns a Handler over svc. authenticator may be nil to serve without
// authentication.
func New(svc *alerts.Service, authenticator auth.Authenticator, opts ...Option) *Handler {
	h := &Handler{
		mux:       http.NewServeMux(),
		svc:       svc,
		auth:      authenticator,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	h.mux.HandleFunc("GET "+notifications.EndpointPath, h.handleGetStream)
	h.mux.HandleFunc("POST "+AlertsPath, h.handlePostAlert)
	h.mux.HandleFunc("DELETE "+AlertsPath+"/{assistant_id}/{conversation_id}", h.handleDeleteAlert)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "http.get.not_acceptable")
		writeJSONError(w, http.StatusNotAcceptable, "this endpoint only serves text/event-stream")
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		h.log.WarnContext(ctx, "sse.stream.rate_limited")
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, "too many connections")
		return
	}

	userID, ok := h.checkAuthentication(ctx, r, w)
	if !ok {
		return
	}

	assistantID := r.URL.Query().Get(notifications.AssistantIDParam)
	ctx = logctx.WithSubscriptionData(ctx, &logctx.SubscriptionData{AssistantID: assistantID, UserID: userID})

	// Subscribe before reading the snapshot so no change falls in between.
	// A change may then show up both in the snapshot and as an update.
	stream, err := h.svc.Subscribe(ctx, assistantID)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.subscribe.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer stream.Close()

	snap, err := h.svc.Snapshot(ctx, assistantID)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.snapshot.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	initial, err := json.Marshal(snap)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.snapshot.encode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to encode alerts")
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := sse.NewWriter(ctx, w)
	sw.Flush()
	h.log.InfoContext(ctx, "sse.stream.start", slog.Int("pending", len(snap.Alerts)))

	if err := sw.WriteEvent(sse.Event{Type: string(notifications.KindInitial), Data: string(initial)}); err != nil {
		h.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}

	if h.heartbeat > 0 {
		hbCtx, stop := context.WithCancel(ctx)
		hbDone := make(chan struct{})
		go func() {
			defer close(hbDone)
			h.keepAlive(hbCtx, sw)
		}()
		// The response must not be written once the handler has returned.
		defer func() {
			stop()
			<-hbDone
		}()
	}

	for {
		env, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
				return
			}
			h.log.ErrorContext(ctx, "sse.updates.fail", slog.String("err", err.Error()))
			_ = sw.WriteEvent(sse.Event{Type: "error", Data: err.Error()})
			return
		}
		if err := sw.WriteEvent(sse.Event{ID: env.ID, Type: string(notifications.KindUpdate), Data: string(env.Data)}); err != nil {
			h.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.DebugContext(ctx, "sse.message.deliver", slog.String("id", env.ID))
	}
}

func (h *Handler) keepAlive(ctx context.Context, sw *sse.Writer) {
	t := time.NewTicker(h.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := sw.WriteComment("keep-alive"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handlePostAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return
	}

	if _, ok := h.checkAuthentication(ctx, r, w); !ok {
		return
	}

	var a alerts.Alert
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAlertBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid alert: %v", err))
		return
	}

	a, err = h.svc.Raise(ctx, a)
	if err != nil {
		if errors.Is(err, alerts.ErrInvalidAlert) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.ErrorContext(ctx, "alert.raise.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to raise alert")
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(a)
}

func (h *Handler) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.checkAuthentication(ctx, r, w); !ok {
		return
	}

	_, err := h.svc.Resolve(ctx, r.PathValue("assistant_id"), r.PathValue("conversation_id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, alerts.ErrAlertNotFound):
		writeJSONError(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, alerts.ErrInvalidAlert):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.ErrorContext(ctx, "alert.resolve.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to resolve alert")
	}
}

// checkAuthentication validates the bearer token and writes the rejection
// when it fails. With no authenticator configured every request passes.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) (string, bool) {
	if h.auth == nil {
		return "", true
	}

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		// RFC 6750 §3.1: no error code when the request carries no credentials.
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, nil))
		w.WriteHeader(http.StatusUnauthorized)
		return "", false
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}))
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "empty bearer token"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_request", "error_description": "empty bearer token"}))
		w.WriteHeader(http.StatusBadRequest)
		return "", false
	}

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInsufficientScope):
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "insufficient_scope", "error_description": err.Error()}))
			w.WriteHeader(http.StatusForbidden)
		case errors.Is(err, auth.ErrUnauthorized):
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, map[string]string{"error": "invalid_token", "error_description": err.Error()}))
			w.WriteHeader(http.StatusUnauthorized)
		default:
			h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return "", false
	}

	h.log.DebugContext(ctx, "auth.ok", slog.String("user_id", userInfo.UserID()))
	return userInfo.UserID(), true
}

// buildBearerChallenge builds a Bearer challenge header value:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// Realm is omitted if empty.
func buildBearerChallenge(realm string, params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	pieces := make([]string, 0, 1+len(params))
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc.Replace(realm)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc.Replace(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
