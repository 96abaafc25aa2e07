// Package auth validates the bearer tokens presented to the human-needed
// stream and admin endpoints.
//
// The surface stays small: an Authenticator validates a bearer token string
// and returns a UserInfo or an error. The hub extracts the token from the
// request and maps the sentinel errors onto RFC 6750 challenges.
//
// # Access tokens
//
// NewFromDiscovery validates JWT access tokens issued by an OpenID Connect
// provider such as Auth0, locating the signing keys through discovery.
// NewStatic does the same against an explicit JWKS URL.
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://tenant.eu.auth0.com/", "https://api.example.com",
//		auth.WithRequiredScopes("read:notifications"),
//	)
//	if err != nil {
//		return err
//	}
//	authn = auth.NewCaching(authn, 1024)
//
// # Errors
//
// ErrUnauthorized signals the token is invalid. ErrInsufficientScope signals
// successful authentication but missing scope.
package auth
