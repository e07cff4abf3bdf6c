package certman

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/dmitrymomot/autotls/core/acme"
)

// Authorization and order statuses polled during issuance
// (RFC 8555 section 7.1.6).
const (
	statusPending = "pending"
	statusValid   = "valid"
	statusInvalid = "invalid"
)

// errStillPending marks a poll round that observed no terminal status
// yet; backoff retries it until the attempt budget runs out.
var errStillPending = errors.New("status still pending")

// Issuer drives one certificate issuance attempt end to end: account,
// order, per-domain authorizations, challenge fulfillment, CSR
// finalization and certificate download. On success the new certificate
// is written through to the cache (best effort) and installed into the
// resolver in a single atomic replace.
//
// A failure at any step aborts the whole attempt and leaves the
// currently served certificate untouched; nothing carries over to the
// next attempt.
type Issuer struct {
	cfg        Config
	resolver   *Resolver
	tokens     *TokenStore
	cache      Cache
	cacheKey   string
	logger     *slog.Logger
	httpClient *http.Client

	// client is created lazily on the first attempt so that serving
	// from a warm cache needs no network at all.
	client *acme.Client

	pollInterval   time.Duration
	pollMaxRetries uint64
}

func newIssuer(cfg Config, resolver *Resolver, tokens *TokenStore, cache Cache, logger *slog.Logger, httpClient *http.Client) *Issuer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Issuer{
		cfg:            cfg,
		resolver:       resolver,
		tokens:         tokens,
		cache:          cache,
		cacheKey:       certCacheKey(cfg.DirectoryName, cfg.Domains),
		logger:         logger,
		httpClient:     httpClient,
		pollInterval:   time.Second,
		pollMaxRetries: 10,
	}
}

// ensureClient constructs the ACME client on first use, loading or
// creating the persisted account key.
func (i *Issuer) ensureClient(ctx context.Context) (*acme.Client, error) {
	if i.client != nil {
		return i.client, nil
	}

	accountKey, err := loadOrCreateAccountKey(ctx, i.cache, i.cfg.DirectoryName, i.logger)
	if err != nil {
		return nil, err
	}

	opts := []acme.Option{acme.WithLogger(i.logger)}
	if i.httpClient != nil {
		opts = append(opts, acme.WithHTTPClient(i.httpClient))
	}
	client, err := acme.New(ctx, i.cfg.DirectoryURL, accountKey, i.cfg.Contacts, opts...)
	if err != nil {
		return nil, err
	}
	i.client = client
	return client, nil
}

// Issue runs a full issuance attempt and installs the resulting
// certificate. It is driven by the renewal scheduler and by the initial
// explicit issuance; this design runs exactly one attempt at a time.
func (i *Issuer) Issue(ctx context.Context) (*tls.Certificate, error) {
	client, err := i.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	order, err := client.NewOrder(ctx, i.cfg.Domains)
	if err != nil {
		return nil, err
	}
	i.logger.InfoContext(ctx, "acme order created", "domains", i.cfg.Domains, "status", order.Status)

	for _, authzURL := range order.Authorizations {
		if err := i.authorize(ctx, client, authzURL); err != nil {
			return nil, err
		}
	}

	certKey, err := acme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	csr, err := acme.CreateCSR(certKey, i.cfg.Domains)
	if err != nil {
		return nil, err
	}

	finalized, err := client.Finalize(ctx, order.Finalize, csr)
	if err != nil {
		return nil, err
	}
	certURL := finalized.Certificate
	if certURL == "" {
		certURL, err = i.pollOrder(ctx, client, order.URL)
		if err != nil {
			return nil, err
		}
	}

	chainPEM, err := client.DownloadCertificate(ctx, certURL)
	if err != nil {
		return nil, err
	}

	bundle, err := certcrypto.ParsePEMBundle(chainPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate chain: %w", acme.ErrDownload, err)
	}
	cert := &tls.Certificate{
		PrivateKey: certKey,
		Leaf:       bundle[0],
	}
	for _, c := range bundle {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}

	// Cache failures never abort the attempt; the certificate is simply
	// not persisted until the next successful write.
	if i.cache != nil {
		if err := storeCertificate(ctx, i.cache, i.cacheKey, acme.EncodeKey(certKey), chainPEM); err != nil {
			i.logger.WarnContext(ctx, "certificate cache write failed", "error", err)
		}
	}

	i.resolver.Install(cert)
	i.logger.InfoContext(ctx, "certificate installed",
		"domains", i.cfg.Domains,
		"not_after", bundle[0].NotAfter,
	)
	return cert, nil
}

// authorize completes a single domain's authorization: it selects the
// configured challenge type, provisions the response before triggering
// validation, and polls until the authorization leaves pending. The
// challenge response is withdrawn as soon as the authorization reaches
// a terminal state.
func (i *Issuer) authorize(ctx context.Context, client *acme.Client, authzURL string) error {
	authz, err := client.FetchAuthorization(ctx, authzURL)
	if err != nil {
		return err
	}
	domain := authz.Identifier.Value

	if authz.Status == statusValid {
		return nil
	}

	ch, ok := authz.FindChallenge(i.cfg.ChallengeType)
	if !ok {
		return fmt.Errorf("%w: %s for %q", ErrChallengeTypeUnavailable, i.cfg.ChallengeType, domain)
	}

	switch i.cfg.ChallengeType {
	case ChallengeHTTP01:
		keyAuth, err := client.KeyAuthorization(ch.Token)
		if err != nil {
			return err
		}
		i.tokens.Put(ch.Token, keyAuth)
		defer i.tokens.Delete(ch.Token)

	case ChallengeTLSALPN01:
		digest, err := client.KeyAuthorizationDigest(ch.Token)
		if err != nil {
			return err
		}
		validationCert, err := newALPNCertificate(domain, digest)
		if err != nil {
			return err
		}
		i.resolver.setValidation(domain, validationCert)
		defer i.resolver.clearValidation(domain)
	}

	if err := client.TriggerChallenge(ctx, ch.URL); err != nil {
		return err
	}
	i.logger.InfoContext(ctx, "challenge triggered",
		"domain", domain,
		"type", i.cfg.ChallengeType,
	)

	return i.pollAuthorization(ctx, client, authzURL, domain)
}

// pollAuthorization waits for the authorization to become valid with
// bounded exponential backoff. An invalid result fails the attempt; an
// exhausted retry budget is a poll timeout.
func (i *Issuer) pollAuthorization(ctx context.Context, client *acme.Client, authzURL, domain string) error {
	var terminalErr error
	op := func() error {
		authz, err := client.FetchAuthorization(ctx, authzURL)
		if err != nil {
			return err
		}
		switch authz.Status {
		case statusValid:
			return nil
		case statusInvalid:
			terminalErr = fmt.Errorf("%w: authorization for %q is invalid", acme.ErrAuthorization, domain)
			return backoff.Permanent(terminalErr)
		default:
			return errStillPending
		}
	}

	if err := backoff.Retry(op, i.newBackOff(ctx)); err != nil {
		if terminalErr != nil {
			return terminalErr
		}
		return fmt.Errorf("%w: authorization for %q: %w", ErrPollTimeout, domain, err)
	}
	return nil
}

// pollOrder waits for the finalized order to expose its certificate
// URL.
func (i *Issuer) pollOrder(ctx context.Context, client *acme.Client, orderURL string) (string, error) {
	var certURL string
	var terminalErr error
	op := func() error {
		order, err := client.FetchOrder(ctx, orderURL)
		if err != nil {
			return err
		}
		switch {
		case order.Status == statusInvalid:
			terminalErr = fmt.Errorf("%w: order is invalid", acme.ErrOrder)
			return backoff.Permanent(terminalErr)
		case order.Certificate != "":
			certURL = order.Certificate
			return nil
		default:
			return errStillPending
		}
	}

	if err := backoff.Retry(op, i.newBackOff(ctx)); err != nil {
		if terminalErr != nil {
			return "", terminalErr
		}
		return "", fmt.Errorf("%w: order %s: %w", ErrPollTimeout, orderURL, err)
	}
	return certURL, nil
}

func (i *Issuer) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = i.pollInterval
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, i.pollMaxRetries), ctx)
}
