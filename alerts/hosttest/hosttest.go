// Package hosttest is a conformance suite for alerts.Host implementations.
package hosttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/humanneeded-go/alerts"
	"github.com/google/uuid"
)

// HostFactory creates a new, empty Host for one test.
type HostFactory func(t *testing.T) alerts.Host

// RunHostTests runs the complete Host test suite against the provided factory.
func RunHostTests(t *testing.T, factory HostFactory) {
	t.Run("Messaging_SubscribeThenPublish", func(t *testing.T) { testSubscribeThenPublish(t, factory) })
	t.Run("Messaging_OrderPreserved", func(t *testing.T) { testOrderPreserved(t, factory) })
	t.Run("Messaging_TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory) })
	t.Run("Messaging_NoReplayBeforeSubscribe", func(t *testing.T) { testNoReplay(t, factory) })
	t.Run("Messaging_FanOut", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("Messaging_CloseStopsStream", func(t *testing.T) { testCloseStopsStream(t, factory) })
	t.Run("Messaging_ContextCancellation", func(t *testing.T) { testContextCancellation(t, factory) })

	t.Run("State_PutListDelete", func(t *testing.T) { testPutListDelete(t, factory) })
	t.Run("State_PutReplacesConversation", func(t *testing.T) { testPutReplaces(t, factory) })
	t.Run("State_DeleteMissing", func(t *testing.T) { testDeleteMissing(t, factory) })
}

// uniqueTopic keeps tests independent when a shared backend (Redis) is used.
func uniqueTopic(name string) string { return name + ":" + uuid.NewString() }

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustSubscribe(t *testing.T, h alerts.Host, ctx context.Context, topic string) alerts.UpdateStream {
	t.Helper()
	s, err := h.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustPublish(t *testing.T, h alerts.Host, ctx context.Context, topic, data string) string {
	t.Helper()
	id, err := h.Publish(ctx, topic, []byte(data))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty event id")
	}
	return id
}

func nextWithin(t *testing.T, s alerts.UpdateStream, d time.Duration) (alerts.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Next(ctx)
}

func testSubscribeThenPublish(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	topic := uniqueTopic("assistant")

	s := mustSubscribe(t, h, ctx, topic)
	id := mustPublish(t, h, ctx, topic, `{"type":"raised"}`)

	env, err := nextWithin(t, s, 5*time.Second)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if env.ID != id || string(env.Data) != `{"type":"raised"}` {
		t.Fatalf("unexpected envelope %+v (want id %s)", env, id)
	}
}

func testOrderPreserved(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	topic := uniqueTopic("order")

	s := mustSubscribe(t, h, ctx, topic)
	for i := 0; i < 20; i++ {
		mustPublish(t, h, ctx, topic, fmt.Sprint(i))
	}
	for i := 0; i < 20; i++ {
		env, err := nextWithin(t, s, 5*time.Second)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if string(env.Data) != fmt.Sprint(i) {
			t.Fatalf("out of order: want %d, got %s", i, env.Data)
		}
	}
}

func testTopicIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	a, b := uniqueTopic("a"), uniqueTopic("b")

	sa := mustSubscribe(t, h, ctx, a)
	mustPublish(t, h, ctx, b, "for-b")
	mustPublish(t, h, ctx, a, "for-a")

	env, err := nextWithin(t, sa, 5*time.Second)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(env.Data) != "for-a" {
		t.Fatalf("received message from another topic: %s", env.Data)
	}
}

func testNoReplay(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	topic := uniqueTopic("replay")

	mustPublish(t, h, ctx, topic, "before")
	s := mustSubscribe(t, h, ctx, topic)
	mustPublish(t, h, ctx, topic, "after")

	env, err := nextWithin(t, s, 5*time.Second)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(env.Data) != "after" {
		t.Fatalf("subscriber saw a message published before it subscribed: %s", env.Data)
	}
}

func testFanOut(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	topic := uniqueTopic("fanout")

	const n = 3
	subs := make([]alerts.UpdateStream, n)
	for i := range subs {
		subs[i] = mustSubscribe(t, h, ctx, topic)
	}
	mustPublish(t, h, ctx, topic, "x")

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, s := range subs {
		wg.Add(1)
		go func(s alerts.UpdateStream) {
			defer wg.Done()
			c, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			env, err := s.Next(c)
			if err == nil && string(env.Data) != "x" {
				err = fmt.Errorf("unexpected data %s", env.Data)
			}
			errs <- err
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("subscriber: %v", err)
		}
	}
}

func testCloseStopsStream(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	topic := uniqueTopic("close")

	s := mustSubscribe(t, h, ctx, topic)

	done := make(chan error, 1)
	go func() {
		_, err := s.Next(ctx)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, alerts.ErrStreamClosed) {
			t.Fatalf("want ErrStreamClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Next did not return after Close")
	}

	// Publishing to a topic whose only subscriber left must still succeed.
	mustPublish(t, h, ctx, topic, "nobody")
}

func testContextCancellation(t *testing.T, factory HostFactory) {
	h := factory(t)
	topic := uniqueTopic("cancel")

	subCtx, cancel := context.WithCancel(context.Background())
	s := mustSubscribe(t, h, subCtx, topic)
	cancel()

	_, err := nextWithin(t, s, 5*time.Second)
	if err == nil {
		t.Fatalf("expected an error after the subscription context was cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next should end promptly on cancellation, got %v", err)
	}
}

func alert(assistant, conv string, at time.Time) alerts.Alert {
	return alerts.Alert{ID: uuid.NewString(), AssistantID: assistant, ConversationID: conv, Customer: "+34600000000", Reason: "asked for a human", CreatedAt: at.UTC().Truncate(time.Millisecond)}
}

func testPutListDelete(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	asst1, asst2 := uuid.NewString(), uuid.NewString()
	now := time.Now()

	for _, a := range []alerts.Alert{alert(asst1, "c1", now), alert(asst1, "c2", now), alert(asst2, "c3", now)} {
		if err := h.PutAlert(ctx, a); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	list, err := h.ListAlerts(ctx, asst1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 alerts for assistant 1, got %d", len(list))
	}

	all, err := h.ListAlerts(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	seen := map[string]bool{}
	for _, a := range all {
		seen[a.AssistantID+"/"+a.ConversationID] = true
	}
	if !seen[asst1+"/c1"] || !seen[asst1+"/c2"] || !seen[asst2+"/c3"] {
		t.Fatalf("global listing incomplete: %v", seen)
	}

	got, ok, err := h.DeleteAlert(ctx, asst1, "c1")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if got.ConversationID != "c1" || got.Reason != "asked for a human" || !got.CreatedAt.Equal(now.UTC().Truncate(time.Millisecond)) {
		t.Fatalf("deleted alert not returned intact: %+v", got)
	}
	list, _ = h.ListAlerts(ctx, asst1)
	if len(list) != 1 || list[0].ConversationID != "c2" {
		t.Fatalf("unexpected remaining alerts: %+v", list)
	}
}

func testPutReplaces(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	asst := uuid.NewString()

	first := alert(asst, "c1", time.Now())
	second := first
	second.Reason = "payment issue"
	if err := h.PutAlert(ctx, first); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.PutAlert(ctx, second); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := h.ListAlerts(ctx, asst)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Reason != "payment issue" {
		t.Fatalf("want a single replaced alert, got %+v", list)
	}
}

func testDeleteMissing(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := testCtx(t)
	_, ok, err := h.DeleteAlert(ctx, uuid.NewString(), "nope")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok {
		t.Fatalf("deleting a missing alert must report false")
	}
}
