// Package hub serves human-needed alerts over Server-Sent Events.
//
// A Handler exposes three routes:
//
//	GET    /notifications/sse/human-needed[?assistant_id=<id>]
//	POST   /notifications/human-needed
//	DELETE /notifications/human-needed/{assistant_id}/{conversation_id}
//
// The GET route opens a stream. The first event is always "initial" and
// carries the JSON snapshot of pending alerts in scope. Every later change
// is sent as an "update" event whose id is the host event id. Comment
// frames are written periodically so intermediaries keep the connection
// open. When the update feed fails the stream ends with an "error" event.
//
// When an auth.Authenticator is configured every route requires a bearer
// token and rejections carry RFC 6750 challenges. A nil Authenticator
// serves all routes without authentication, which is what clients whose
// stream implementation cannot send headers need.
package hub
