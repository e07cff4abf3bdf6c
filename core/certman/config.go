package certman

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/autotls/core/acme"
)

// Challenge types the manager can fulfill. The two mechanisms use
// different side channels: http-01 answers over a plain HTTP route,
// tls-alpn-01 over a dedicated TLS extension.
const (
	ChallengeHTTP01    = acme.ChallengeHTTP01
	ChallengeTLSALPN01 = acme.ChallengeTLSALPN01
)

// Config holds the certificate manager configuration with environment
// variable support. Build it once; it is treated as immutable afterward.
type Config struct {
	// DirectoryName labels the CA in cache keys so artifacts from
	// different CAs (e.g. staging vs production) never collide.
	DirectoryName string `env:"ACME_DIRECTORY_NAME" envDefault:"letsencrypt"`

	// DirectoryURL is the ACME server's directory document URL.
	DirectoryURL string `env:"ACME_DIRECTORY_URL" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`

	// Domains are the DNS names the certificate covers. At least one is
	// required.
	Domains []string `env:"ACME_DOMAINS" envSeparator:","`

	// Contacts are optional account contact URIs (e.g. mailto:...).
	Contacts []string `env:"ACME_CONTACTS" envSeparator:","`

	// ChallengeType selects http-01 or tls-alpn-01 validation.
	ChallengeType string `env:"ACME_CHALLENGE_TYPE" envDefault:"http-01"`

	// CacheDir persists issued keys and certificates across restarts.
	// Empty disables the on-disk cache.
	CacheDir string `env:"ACME_CACHE_DIR" envDefault:""`

	// BeforeExpiry is the renewal margin: a certificate is renewed once
	// notAfter - now drops to this duration or below.
	BeforeExpiry time.Duration `env:"ACME_BEFORE_EXPIRY" envDefault:"12h"`

	// CheckInterval is how often the renewal scheduler wakes up.
	CheckInterval time.Duration `env:"ACME_CHECK_INTERVAL" envDefault:"10m"`
}

// DefaultConfig returns a Config with the package defaults applied.
// Domains must still be provided before the config validates.
func DefaultConfig() Config {
	return Config{
		DirectoryName: "letsencrypt",
		DirectoryURL:  "https://acme-v02.api.letsencrypt.org/directory",
		ChallengeType: ChallengeHTTP01,
		BeforeExpiry:  12 * time.Hour,
		CheckInterval: 10 * time.Minute,
	}
}

// LoadConfig reads configuration from the environment, loading a .env
// file first when one is present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration before any network activity.
func (c Config) Validate() error {
	if len(c.Domains) == 0 {
		return ErrNoDomains
	}
	u, err := url.ParseRequestURI(c.DirectoryURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidDirectoryURL, c.DirectoryURL)
	}
	switch c.ChallengeType {
	case ChallengeHTTP01, ChallengeTLSALPN01:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChallengeType, c.ChallengeType)
	}
	if c.BeforeExpiry <= 0 {
		return fmt.Errorf("renewal margin must be positive, got %s", c.BeforeExpiry)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %s", c.CheckInterval)
	}
	return nil
}
