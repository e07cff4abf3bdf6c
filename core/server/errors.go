package server

import "errors"

var (
	// ErrMissingAcceptor is returned when no inner acceptor or listener
	// is provided.
	ErrMissingAcceptor = errors.New("inner acceptor is required")

	// ErrMissingManager is returned when no certificate manager is
	// provided.
	ErrMissingManager = errors.New("certificate manager is required")

	// ErrHandshake marks a failed TLS handshake on a single connection.
	// It never affects other connections or the renewal scheduler.
	ErrHandshake = errors.New("tls handshake failed")

	// ErrAcceptorClosed is returned from Accept after Close.
	ErrAcceptorClosed = errors.New("acceptor is closed")
)
