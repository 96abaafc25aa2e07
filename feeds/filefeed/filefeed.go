// Package filefeed raises human-needed alerts from a JSON file.
//
// The file holds a JSON array of alerts. Each reconcile raises alerts that
// are new or whose details changed, and resolves alerts the feed raised
// earlier that are no longer listed. Alerts raised by other producers are
// never touched. A missing file counts as an empty list.
package filefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/humanneeded-go/alerts"
)

// DefaultDebounce groups bursts of file events into one reconcile.
const DefaultDebounce = 100 * time.Millisecond

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) { f.log = l }
}

// WithDebounce sets how long Watch waits for the file to settle.
func WithDebounce(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.debounce = d
		}
	}
}

// Feed mirrors one file into an alerts.Service.
type Feed struct {
	path     string
	svc      *alerts.Service
	log      *slog.Logger
	debounce time.Duration

	mu    sync.Mutex
	owned map[key]alerts.Alert
}

type key struct{ assistant, conversation string }

func New(path string, svc *alerts.Service, opts ...Option) *Feed {
	f := &Feed{
		path:     filepath.Clean(path),
		svc:      svc,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		debounce: DefaultDebounce,
		owned:    make(map[key]alerts.Alert),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Sync reconciles the service with the current file contents once.
func (f *Feed) Sync(ctx context.Context) error {
	desired, err := f.load()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	raised, resolved := 0, 0
	for k, want := range desired {
		have, ok := f.owned[k]
		if ok && have.Customer == want.Customer && have.Reason == want.Reason {
			continue
		}
		if ok {
			want.ID = have.ID
			if want.CreatedAt.IsZero() {
				want.CreatedAt = have.CreatedAt
			}
		}
		a, err := f.svc.Raise(ctx, want)
		if err != nil {
			errs = append(errs, fmt.Errorf("raise %s/%s: %w", k.assistant, k.conversation, err))
			continue
		}
		f.owned[k] = a
		raised++
	}
	for k := range f.owned {
		if _, ok := desired[k]; ok {
			continue
		}
		if _, err := f.svc.Resolve(ctx, k.assistant, k.conversation); err != nil && !errors.Is(err, alerts.ErrAlertNotFound) {
			errs = append(errs, fmt.Errorf("resolve %s/%s: %w", k.assistant, k.conversation, err))
			continue
		}
		delete(f.owned, k)
		resolved++
	}

	f.log.InfoContext(ctx, "feed.sync", slog.String("path", f.path), slog.Int("raised", raised), slog.Int("resolved", resolved))
	return errors.Join(errs...)
}

func (f *Feed) load() (map[key]alerts.Alert, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[key]alerts.Alert{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var list []alerts.Alert
	if len(b) > 0 {
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse feed %s: %w", f.path, err)
		}
	}
	out := make(map[key]alerts.Alert, len(list))
	for _, a := range list {
		if a.AssistantID == "" || a.ConversationID == "" {
			return nil, fmt.Errorf("parse feed %s: %w: assistant_id and conversation_id are required", f.path, alerts.ErrInvalidAlert)
		}
		out[key{a.AssistantID, a.ConversationID}] = a
	}
	return out, nil
}

// Watch syncs once and then again after every change to the file, until
// ctx is done. Sync failures are logged and do not stop the watch.
func (f *Feed) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	// Watch the directory so replace-by-rename saves are seen.
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	if err := f.Sync(ctx); err != nil {
		f.log.WarnContext(ctx, "feed.sync.fail", slog.String("err", err.Error()))
	}

	timer := time.NewTimer(f.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				timer.Reset(f.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.WarnContext(ctx, "feed.watch.error", slog.String("err", err.Error()))
		case <-timer.C:
			if err := f.Sync(ctx); err != nil {
				f.log.WarnContext(ctx, "feed.sync.fail", slog.String("err", err.Error()))
			}
		}
	}
}
