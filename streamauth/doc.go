// Package streamauth opens server-sent event streams, optionally carrying
// authentication headers on the initial request.
//
// Whether a runtime can attach headers to a streaming connection is a
// capability, not an error condition. Callers declare it explicitly through
// Capabilities when constructing an Injector. When HeaderStreams is false
// the Injector silently degrades to a headerless stream and the server is
// left to accept or reject the unauthenticated connection.
//
//	inj := streamauth.NewInjector(streamauth.HTTPOpener{}, streamauth.Capabilities{HeaderStreams: true})
//	s, err := inj.OpenWithToken(ctx, url, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	ev, err := s.Next(ctx)
package streamauth
