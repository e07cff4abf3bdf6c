// Package certman manages the full lifecycle of ACME-issued TLS
// certificates: initial issuance, live serving through an atomically
// swappable resolver, background renewal and optional on-disk
// persistence.
//
// The Manager is constructed once per domain set. Start loads any
// cached certificate before the first handshake, kicks off the initial
// issuance when nothing is cached, and runs a renewal scheduler that
// re-issues once the certificate is within the configured margin of
// expiry. Handshakes keep being served from the previous certificate
// throughout; installation is a single atomic replace.
//
// Two challenge mechanisms are supported. http-01 answers over a
// plain-HTTP route fed by the shared TokenStore (wire it up with
// Manager.HTTPHandler). tls-alpn-01 answers inside the TLS handshake
// itself with a validation-only marker certificate, returned solely to
// clients advertising the acme-tls/1 ALPN protocol.
//
// # Types
//
//   - Manager: lifecycle facade handed to the server acceptor
//   - Config: build-once configuration with environment support
//   - Resolver: certificate holder consulted on every handshake
//   - TokenStore: shared http-01 token map
//   - Issuer, Scheduler: issuance workflow and renewal loop
//
// # Errors
//
//   - ErrNoDomains, ErrInvalidDirectoryURL, ErrUnknownChallengeType:
//     configuration failures, caught before any network call
//   - ErrChallengeTypeUnavailable, ErrPollTimeout: per-attempt
//     issuance failures
//   - ErrCacheIO: cache failures, logged and never fatal to an attempt
//   - ErrNoCertificate: handshake before the first issuance completes
//
// # Basic Usage
//
//	cfg := certman.DefaultConfig()
//	cfg.Domains = []string{"example.com"}
//	cfg.CacheDir = "/var/cache/autotls"
//
//	manager, err := certman.NewManager(cfg, certman.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := manager.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	tlsConfig := &tls.Config{GetCertificate: manager.GetCertificate}
package certman
