package server

import (
	"crypto/tls"

	"github.com/dmitrymomot/autotls/core/acme"
	"github.com/dmitrymomot/autotls/core/certman"
)

// NewTLSConfig builds the handshake configuration for an AcmeAcceptor:
// certificate selection delegates to the manager's resolver, and the
// acme-tls/1 protocol is advertised after the regular HTTP protocols so
// tls-alpn-01 validators can negotiate it. Cipher suites and curves
// follow Mozilla's Modern compatibility recommendations.
func NewTLSConfig(manager *certman.Manager) *tls.Config {
	return &tls.Config{
		GetCertificate: manager.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1", acme.ALPNProto},
		CipherSuites: []uint16{
			// TLS 1.3 suites are auto-selected; these apply to TLS 1.2
			// (ECDHE only, for forward secrecy).
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}
