package acme

import (
	"context"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// nonceSource adapts the client's nonce fetching to the jose.NonceSource
// interface. Every signature requests a fresh single-use nonce from the
// server's newNonce endpoint; nonces are never reused or cached across
// calls.
type nonceSource struct {
	ctx    context.Context
	client *Client
}

func (n nonceSource) Nonce() (string, error) {
	return n.client.fetchNonce(n.ctx)
}

// signJWS signs payload for the target URL, producing the flattened JSON
// serialization {protected, payload, signature} the ACME server expects
// as application/jose+json.
//
// Requests to newAccount embed the full public JWK in the protected
// header; every other request identifies the account by its "kid" URL
// (RFC 8555 section 6.2).
func (c *Client) signJWS(ctx context.Context, url string, payload []byte, embedJWK bool) ([]byte, error) {
	opts := &jose.SignerOptions{
		NonceSource: nonceSource{ctx: ctx, client: c},
		ExtraHeaders: map[jose.HeaderKey]any{
			"url": url,
		},
	}

	signingKey := jose.SigningKey{Algorithm: jose.ES256, Key: c.key}
	if embedJWK {
		opts.EmbedJWK = true
	} else {
		if c.kid == "" {
			return nil, fmt.Errorf("%w: no account URL for kid header", ErrAccount)
		}
		signingKey.Key = &jose.JSONWebKey{Key: c.key, KeyID: c.kid, Algorithm: string(jose.ES256)}
	}

	signer, err := jose.NewSigner(signingKey, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: create signer: %w", ErrCrypto, err)
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: sign request: %w", ErrCrypto, err)
	}

	return []byte(signed.FullSerialize()), nil
}
