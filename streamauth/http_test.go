package streamauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPOpener_StreamsEventsWithHeaders(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		if r.Header.Get("Accept") != "text/event-stream" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "event: initial\ndata: 2\n\nevent: update\ndata: 3\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := HTTPOpener{Client: srv.Client()}.Open(ctx, srv.URL, BearerHeader("t"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if a := <-gotAuth; a != "Bearer t" {
		t.Fatalf("server saw authorization %q", a)
	}

	ev, err := s.Next(ctx)
	if err != nil || ev.Type != "initial" || ev.Data != "2" {
		t.Fatalf("first event: %+v, %v", ev, err)
	}
	ev, err = s.Next(ctx)
	if err != nil || ev.Type != "update" || ev.Data != "3" {
		t.Fatalf("second event: %+v, %v", ev, err)
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF at end of stream, got %v", err)
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("read failures must be sticky, got %v", err)
	}
}

func TestHTTPOpener_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := HTTPOpener{Client: srv.Client()}.Open(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusUnauthorized || se.WWWAuthenticate == "" {
		t.Fatalf("unexpected status error: %+v", se)
	}
}

func TestHTTPOpener_RejectsNonEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "{}")
	}))
	defer srv.Close()

	_, err := HTTPOpener{Client: srv.Client()}.Open(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrNotEventStream) {
		t.Fatalf("want ErrNotEventStream, got %v", err)
	}
}

func TestHTTPStream_CloseInterruptsAndIsIdempotent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s, err := HTTPOpener{Client: srv.Client()}.Open(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
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
		if !errors.Is(err, ErrStreamClosed) {
			t.Fatalf("want ErrStreamClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Next did not return after Close")
	}
}
