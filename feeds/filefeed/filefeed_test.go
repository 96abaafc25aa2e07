package filefeed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/humanneeded-go/alerts"
	"github.com/ggoodman/humanneeded-go/alerts/memoryhost"
)

func writeFeed(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}
}

func pending(t *testing.T, svc *alerts.Service) map[string]alerts.Alert {
	t.Helper()
	snap, err := svc.Snapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	out := make(map[string]alerts.Alert, len(snap.Alerts))
	for _, a := range snap.Alerts {
		out[a.AssistantID+"/"+a.ConversationID] = a
	}
	return out
}

func TestSync_RaisesAndResolvesOwnedAlerts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.json")
	svc := alerts.NewService(memoryhost.New())
	f := New(path, svc)

	// Raised elsewhere; the feed must leave it alone.
	if _, err := svc.Raise(ctx, alerts.Alert{AssistantID: "a1", ConversationID: "manual"}); err != nil {
		t.Fatalf("raise: %v", err)
	}

	writeFeed(t, path, `[
		{"assistant_id":"a1","conversation_id":"c1","reason":"refund"},
		{"assistant_id":"a2","conversation_id":"c2"}
	]`)
	if err := f.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := pending(t, svc)
	if len(got) != 3 || got["a1/c1"].Reason != "refund" {
		t.Fatalf("unexpected alerts after first sync: %+v", got)
	}
	firstID := got["a1/c1"].ID

	writeFeed(t, path, `[{"assistant_id":"a1","conversation_id":"c1","reason":"refund, urgent"}]`)
	if err := f.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got = pending(t, svc)
	if _, ok := got["a2/c2"]; ok {
		t.Fatalf("alert dropped from the file should be resolved")
	}
	if _, ok := got["a1/manual"]; !ok {
		t.Fatalf("alert raised elsewhere must survive the sync")
	}
	if got["a1/c1"].Reason != "refund, urgent" || got["a1/c1"].ID != firstID {
		t.Fatalf("changed alert should be re-raised under the same id: %+v", got["a1/c1"])
	}
}

func TestSync_MissingFileResolvesEverythingOwned(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.json")
	svc := alerts.NewService(memoryhost.New())
	f := New(path, svc)

	writeFeed(t, path, `[{"assistant_id":"a1","conversation_id":"c1"}]`)
	if err := f.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := pending(t, svc); len(got) != 0 {
		t.Fatalf("want no alerts, got %+v", got)
	}
}

func TestSync_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	f := New(path, alerts.NewService(memoryhost.New()))

	writeFeed(t, path, `{"not":"a list"}`)
	if err := f.Sync(context.Background()); err == nil {
		t.Fatalf("expected a parse error")
	}

	writeFeed(t, path, `[{"assistant_id":"a1"}]`)
	if err := f.Sync(context.Background()); !errors.Is(err, alerts.ErrInvalidAlert) {
		t.Fatalf("want ErrInvalidAlert, got %v", err)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "alerts.json")
	svc := alerts.NewService(memoryhost.New())
	f := New(path, svc, WithDebounce(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx) }()

	waitFor := func(want int) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if len(pending(t, svc)) == want {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d alerts, have %+v", want, pending(t, svc))
	}

	// Give the watcher a moment to register before the first write.
	time.Sleep(50 * time.Millisecond)
	writeFeed(t, path, `[{"assistant_id":"a1","conversation_id":"c1"},{"assistant_id":"a1","conversation_id":"c2"}]`)
	waitFor(2)

	writeFeed(t, path, `[]`)
	waitFor(0)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not stop")
	}
}
