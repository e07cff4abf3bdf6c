package acme

import "fmt"

// Challenge type identifiers registered for ACME (RFC 8555 section 8).
const (
	ChallengeHTTP01    = "http-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)

// ALPNProto is the ALPN protocol name clients advertise when connecting to
// validate a tls-alpn-01 challenge (RFC 8737).
const ALPNProto = "acme-tls/1"

// Directory holds the endpoint URLs discovered from the ACME server's
// directory document. It is fetched once per Client and held immutable.
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.1.1
type Directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	RevokeCert string `json:"revokeCert,omitempty"`
	KeyChange  string `json:"keyChange,omitempty"`
}

// Identifier is a subject identifier an order requests a certificate for.
// In practice only "dns" type identifiers are used.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Account is the request and response body for the newAccount endpoint.
// The account URL itself arrives in the Location response header and is
// used afterwards as the JWS "kid".
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.3
type Account struct {
	Status               string   `json:"status,omitempty"`
	Contact              []string `json:"contact,omitempty"`
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting   bool     `json:"onlyReturnExisting,omitempty"`
	Orders               string   `json:"orders,omitempty"`
}

// Order represents one certificate issuance attempt. It is transient:
// created per attempt and discarded once the attempt completes or fails.
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.1.3
type Order struct {
	Status         string       `json:"status"`
	Expires        string       `json:"expires,omitempty"`
	Identifiers    []Identifier `json:"identifiers,omitempty"`
	Authorizations []string     `json:"authorizations"`
	Finalize       string       `json:"finalize"`
	Certificate    string       `json:"certificate,omitempty"`

	// URL is the order resource URL from the Location response header.
	// It is not part of the ACME wire format; polling reads it.
	URL string `json:"-"`
}

// Authorization is the per-domain record of challenges the server offers
// and their validation status. Possible statuses are "pending", "valid",
// "invalid", "deactivated", "expired" and "revoked".
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-7.1.4
type Authorization struct {
	Identifier Identifier  `json:"identifier"`
	Status     string      `json:"status"`
	Expires    string      `json:"expires,omitempty"`
	Challenges []Challenge `json:"challenges"`
	Wildcard   bool        `json:"wildcard,omitempty"`
}

// FindChallenge returns the offered challenge matching the given type,
// or false if the server did not offer it.
func (a Authorization) FindChallenge(challengeType string) (Challenge, bool) {
	for _, ch := range a.Challenges {
		if ch.Type == challengeType {
			return ch, true
		}
	}
	return Challenge{}, false
}

// Challenge is one way the server offers to validate control of an
// identifier.
//
// See https://datatracker.ietf.org/doc/html/rfc8555#section-8
type Challenge struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Token  string `json:"token"`
}

// Problem is an ACME problem document (RFC 7807) returned by the server
// on request failure. It is carried inside the sentinel error wrap so
// callers can inspect the server-reported detail.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Error implements the error interface.
func (p *Problem) Error() string {
	if p.Detail == "" {
		return fmt.Sprintf("acme: server returned problem %q", p.Type)
	}
	return fmt.Sprintf("acme: %s (%s)", p.Detail, p.Type)
}
