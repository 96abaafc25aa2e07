// Command notifywatch prints human-needed events as "kind:payload" lines
// until interrupted.
//
// Settings come from the environment; see config.Client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/humanneeded-go/config"
	"github.com/ggoodman/humanneeded-go/notifications"
	"github.com/ggoodman/humanneeded-go/streamauth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "notifywatch:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	opts := []notifications.Option{
		notifications.WithLogger(log),
		notifications.WithCapabilities(streamauth.Capabilities{HeaderStreams: cfg.HeaderStreams}),
	}
	if ts := cfg.TokenSource(ctx); ts != nil {
		opts = append(opts, notifications.WithTokenSource(ts))
	}
	client, err := notifications.New(cfg.BaseURL, opts...)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	sub, err := client.Subscribe(ctx, notifications.Request{
		AssistantID: cfg.AssistantID,
		OnMessage: func(_ context.Context, m notifications.Message) {
			fmt.Println(m.String())
		},
		OnError: func(_ context.Context, err error) {
			var se *notifications.ServerError
			if errors.As(err, &se) {
				log.Warn("server.error", slog.String("data", se.Data))
				return
			}
			select {
			case failed <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	defer sub.Close()
	log.Info("subscription.open", slog.String("url", sub.URL()), slog.Bool("header_streams", cfg.HeaderStreams))

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	case <-sub.Done():
		select {
		case err := <-failed:
			return err
		default:
			return nil
		}
	}
}
