package acme

import "errors"

var (
	// ErrCrypto is returned when key generation or signing fails.
	ErrCrypto = errors.New("crypto operation failed")

	// ErrDirectory is returned when the directory document cannot be
	// fetched or parsed.
	ErrDirectory = errors.New("directory fetch failed")

	// ErrNonce is returned when the server does not supply a usable
	// anti-replay nonce.
	ErrNonce = errors.New("nonce fetch failed")

	// ErrAccount is returned when account creation fails or the server
	// omits the account URL.
	ErrAccount = errors.New("account creation failed")

	// ErrOrder is returned when order creation or polling fails.
	ErrOrder = errors.New("order request failed")

	// ErrAuthorization is returned when an authorization cannot be
	// fetched or validation ends in the invalid state.
	ErrAuthorization = errors.New("authorization failed")

	// ErrChallengeTrigger is returned when the server rejects the request
	// to start challenge validation.
	ErrChallengeTrigger = errors.New("challenge trigger failed")

	// ErrFinalize is returned when submitting the CSR fails.
	ErrFinalize = errors.New("order finalization failed")

	// ErrDownload is returned when the issued certificate cannot be
	// downloaded.
	ErrDownload = errors.New("certificate download failed")
)
