package acme

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// ACME clients MUST set the Content-Type of signed request bodies
	// (RFC 8555 section 6.2).
	joseContentType = "application/jose+json"

	// replayNonceHeader carries the anti-replay nonce in every response
	// from the newNonce endpoint.
	replayNonceHeader = "Replay-Nonce"

	// maxChainSize bounds the certificate chain download. Five certs of
	// ~12KB each is far beyond any chain a public CA issues.
	maxChainSize = 5 * 12 * 1024
)

// Client implements the RFC 8555 subset this module needs: directory
// discovery, nonce fetching, account creation, orders, authorizations,
// challenges, finalization and certificate download. Each call is
// stateless apart from the directory (fetched once at construction) and
// the lazily established account URL.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	directory  Directory
	key        *ecdsa.PrivateKey
	contacts   []string

	// kid is the account URL used in JWS protected headers once the
	// account has been created. Empty until EnsureAccount succeeds.
	kid string
}

// Option configures a Client during construction.
type Option func(*Client)

// WithHTTPClient replaces the transport used for all ACME requests.
// Per-request timeouts belong on this client; in-flight calls are not
// cancelable mid-flight otherwise.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets a logger for protocol-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New fetches the ACME server's directory document and returns a client
// bound to the given account key and contact URIs.
func New(ctx context.Context, directoryURL string, key *ecdsa.PrivateKey, contacts []string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(directoryURL); err != nil {
		return nil, fmt.Errorf("%w: invalid directory URL %q: %w", ErrDirectory, directoryURL, err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: account key is required", ErrCrypto)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		key:        key,
		contacts:   contacts,
	}
	for _, opt := range opts {
		opt(c)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directoryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectory, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectory, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: directory returned status %d", ErrDirectory, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&c.directory); err != nil {
		return nil, fmt.Errorf("%w: decode directory: %w", ErrDirectory, err)
	}
	if c.directory.NewNonce == "" || c.directory.NewAccount == "" || c.directory.NewOrder == "" {
		return nil, fmt.Errorf("%w: directory is missing required endpoints", ErrDirectory)
	}

	c.logger.DebugContext(ctx, "fetched acme directory", "url", directoryURL)
	return c, nil
}

// Directory returns the endpoint URLs the client discovered at
// construction.
func (c *Client) Directory() Directory {
	return c.directory
}

// AccountURL returns the account URL (the JWS "kid") once EnsureAccount
// has run, or an empty string before that.
func (c *Client) AccountURL() string {
	return c.kid
}

// fetchNonce obtains a fresh anti-replay nonce from the newNonce
// endpoint (RFC 8555 section 7.2).
func (c *Client) fetchNonce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.directory.NewNonce, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNonce, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNonce, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("%w: newNonce returned status %d", ErrNonce, resp.StatusCode)
	}
	nonce := resp.Header.Get(replayNonceHeader)
	if nonce == "" {
		return "", fmt.Errorf("%w: response has no %s header", ErrNonce, replayNonceHeader)
	}
	return nonce, nil
}

// signedPost signs payload and POSTs it to url. A nil payload produces
// a POST-as-GET request with an empty JWS payload (RFC 8555 section
// 6.3). The response body is fully read and returned along with the
// headers; HTTP statuses >= 400 are decoded as problem documents.
func (c *Client) signedPost(ctx context.Context, targetURL string, payload []byte, embedJWK bool) ([]byte, http.Header, error) {
	if payload == nil {
		payload = []byte{}
	}

	body, err := c.signJWS(ctx, targetURL, payload, embedJWK)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", joseContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxChainSize))
	if err != nil {
		return nil, resp.Header, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		problem := &Problem{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, problem); err != nil {
			return respBody, resp.Header, fmt.Errorf("acme: request to %s returned status %d", targetURL, resp.StatusCode)
		}
		return respBody, resp.Header, problem
	}

	return respBody, resp.Header, nil
}

// EnsureAccount creates the ACME account on first use and records its
// URL for subsequent "kid" headers. Safe to call repeatedly; a created
// account short-circuits.
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.3
func (c *Client) EnsureAccount(ctx context.Context) error {
	if c.kid != "" {
		return nil
	}

	payload, err := json.Marshal(Account{
		TermsOfServiceAgreed: true,
		OnlyReturnExisting:   false,
		Contact:              c.contacts,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAccount, err)
	}

	_, header, err := c.signedPost(ctx, c.directory.NewAccount, payload, true)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAccount, err)
	}

	kid := header.Get("Location")
	if kid == "" {
		return fmt.Errorf("%w: newAccount response has no Location header", ErrAccount)
	}
	c.kid = kid

	c.logger.InfoContext(ctx, "acme account ready", "account_url", kid)
	return nil
}

// NewOrder submits a newOrder request for the given domains, creating
// the account first if needed.
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.4
func (c *Client) NewOrder(ctx context.Context, domains []string) (*Order, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: no domains", ErrOrder)
	}
	if err := c.EnsureAccount(ctx); err != nil {
		return nil, err
	}

	identifiers := make([]Identifier, 0, len(domains))
	for _, d := range domains {
		identifiers = append(identifiers, Identifier{Type: "dns", Value: d})
	}
	payload, err := json.Marshal(Order{Identifiers: identifiers})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrder, err)
	}

	body, header, err := c.signedPost(ctx, c.directory.NewOrder, payload, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrder, err)
	}

	order := &Order{}
	if err := json.Unmarshal(body, order); err != nil {
		return nil, fmt.Errorf("%w: decode order: %w", ErrOrder, err)
	}
	if order.Finalize == "" {
		return nil, fmt.Errorf("%w: order response has no finalize URL", ErrOrder)
	}
	order.URL = header.Get("Location")

	c.logger.DebugContext(ctx, "acme order created", "order_url", order.URL, "status", order.Status)
	return order, nil
}

// FetchAuthorization retrieves an authorization resource via POST-as-GET.
func (c *Client) FetchAuthorization(ctx context.Context, authzURL string) (*Authorization, error) {
	body, _, err := c.signedPost(ctx, authzURL, nil, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorization, err)
	}

	authz := &Authorization{}
	if err := json.Unmarshal(body, authz); err != nil {
		return nil, fmt.Errorf("%w: decode authorization: %w", ErrAuthorization, err)
	}
	return authz, nil
}

// TriggerChallenge POSTs an empty JSON object to the challenge URL,
// telling the server the response is provisioned and validation may
// start. It does not wait for validation; callers poll
// FetchAuthorization until the status leaves "pending".
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.5.1
func (c *Client) TriggerChallenge(ctx context.Context, challengeURL string) error {
	if _, _, err := c.signedPost(ctx, challengeURL, []byte("{}"), false); err != nil {
		return fmt.Errorf("%w: %w", ErrChallengeTrigger, err)
	}
	return nil
}

// Finalize submits the DER-encoded CSR to the order's finalize URL.
func (c *Client) Finalize(ctx context.Context, finalizeURL string, csrDER []byte) (*Order, error) {
	payload, err := json.Marshal(struct {
		CSR string `json:"csr"`
	}{CSR: base64.RawURLEncoding.EncodeToString(csrDER)})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFinalize, err)
	}

	body, _, err := c.signedPost(ctx, finalizeURL, payload, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFinalize, err)
	}

	order := &Order{}
	if err := json.Unmarshal(body, order); err != nil {
		return nil, fmt.Errorf("%w: decode order: %w", ErrFinalize, err)
	}
	return order, nil
}

// FetchOrder retrieves the order resource via POST-as-GET, used while
// polling for the certificate URL after finalization.
func (c *Client) FetchOrder(ctx context.Context, orderURL string) (*Order, error) {
	body, _, err := c.signedPost(ctx, orderURL, nil, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrder, err)
	}

	order := &Order{}
	if err := json.Unmarshal(body, order); err != nil {
		return nil, fmt.Errorf("%w: decode order: %w", ErrOrder, err)
	}
	order.URL = orderURL
	return order, nil
}

// DownloadCertificate fetches the issued PEM certificate chain via
// POST-as-GET.
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.4.2
func (c *Client) DownloadCertificate(ctx context.Context, certURL string) ([]byte, error) {
	body, _, err := c.signedPost(ctx, certURL, nil, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty certificate body", ErrDownload)
	}
	return body, nil
}
