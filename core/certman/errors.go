package certman

import "errors"

var (
	// ErrNoDomains is returned when the configuration lists no domains.
	ErrNoDomains = errors.New("at least one domain name is expected")

	// ErrInvalidDirectoryURL is returned when the configured ACME
	// directory URL does not parse. Caught before any network call.
	ErrInvalidDirectoryURL = errors.New("invalid ACME directory URL")

	// ErrUnknownChallengeType is returned for challenge types other than
	// http-01 and tls-alpn-01.
	ErrUnknownChallengeType = errors.New("unknown challenge type")

	// ErrChallengeTypeUnavailable is returned when the CA does not offer
	// the configured challenge type for a domain.
	ErrChallengeTypeUnavailable = errors.New("configured challenge type not offered by CA")

	// ErrPollTimeout is returned when authorization or order polling
	// exhausts its retry budget within a single issuance attempt.
	ErrPollTimeout = errors.New("status polling retries exhausted")

	// ErrCacheIO marks certificate cache read/write failures. Cache
	// errors are logged and never abort an issuance attempt.
	ErrCacheIO = errors.New("certificate cache i/o failed")

	// ErrNoCertificate is returned from a TLS handshake when neither a
	// production nor a matching validation certificate is installed.
	ErrNoCertificate = errors.New("no certificate available")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("certificate manager already started")
)
