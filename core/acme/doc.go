// Package acme implements the subset of the ACME protocol (RFC 8555)
// needed to obtain TLS certificates automatically: directory discovery,
// anti-replay nonces, account creation, orders, authorizations,
// challenges, finalization and certificate download.
//
// Every signed request is an ES256 JWS in the flattened JSON
// serialization, sent as application/jose+json. Requests to newAccount
// embed the public JWK; all later requests identify the account by the
// "kid" URL returned in the newAccount Location header. A fresh
// single-use nonce is fetched from the newNonce endpoint for every
// signature.
//
// # Types
//
//   - Client: stateless-per-call protocol wrapper
//   - Directory, Account, Order, Authorization, Challenge: wire resources
//   - Problem: ACME problem document carried inside error wraps
//
// # Errors
//
//   - ErrDirectory, ErrNonce, ErrAccount, ErrOrder, ErrAuthorization,
//     ErrChallengeTrigger, ErrFinalize, ErrDownload: per-step failures
//   - ErrCrypto: key generation or signing failures
//
// # Basic Usage
//
//	key, err := acme.GenerateKeyPair()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := acme.New(ctx, directoryURL, key, []string{"mailto:admin@example.com"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	order, err := client.NewOrder(ctx, []string{"example.com"})
//	// ... complete authorizations, finalize, download.
package acme
