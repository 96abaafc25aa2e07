// Package notifications subscribes to the human-needed event stream.
//
// The server exposes GET {base}/notifications/sse/human-needed, optionally
// scoped to one assistant with the assistant_id query parameter. On connect
// it sends an "initial" event carrying the current snapshot and then an
// "update" event for every change. Both are delivered to the caller's
// MessageHandler, in order, from a single goroutine. Server "error" events
// and transport failures go to the optional ErrorHandler.
//
// A Subscription never reconnects. When the stream fails the error is
// reported once and the subscription closes; callers that want to retry
// call Subscribe again.
//
//	c, err := notifications.New("https://api.example.com")
//	if err != nil {
//		return err
//	}
//	sub, err := c.Subscribe(ctx, notifications.Request{
//		Token:       token,
//		AssistantID: "1",
//		OnMessage: func(ctx context.Context, m notifications.Message) {
//			fmt.Println(m)
//		},
//	})
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
package notifications
