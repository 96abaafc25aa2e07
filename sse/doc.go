// Package sse implements the text/event-stream wire format used by the
// human-needed notification endpoint.
//
// A Decoder turns a byte stream into Events following the WHATWG
// server-sent events parsing rules: fields are accumulated until a blank
// line dispatches the frame, multi-line data is joined with "\n", comment
// lines are skipped and the last seen id persists across frames.
//
// A Writer does the reverse for servers. Every frame is flushed as soon as
// it is written so that events are not held back by response buffering.
//
//	dec := sse.NewDecoder(resp.Body)
//	for {
//		ev, err := dec.Next()
//		if err != nil {
//			return err
//		}
//		fmt.Println(ev.Type, ev.Data)
//	}
package sse
