package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With(slog.String("component", "hub"))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "GET", Path: "/x"})
	ctx = WithSubscriptionData(ctx, &SubscriptionData{AssistantID: "1", UserID: "u"})
	log.InfoContext(ctx, "sse.stream.start")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	req, _ := rec["req"].(map[string]any)
	if req["id"] != "r1" || req["path"] != "/x" {
		t.Fatalf("missing req group: %v", rec)
	}
	sub, _ := rec["sub"].(map[string]any)
	if sub["assistant_id"] != "1" || sub["user_id"] != "u" {
		t.Fatalf("missing sub group: %v", rec)
	}
	if rec["component"] != "hub" {
		t.Fatalf("WithAttrs must keep the context handler: %v", rec)
	}
}
