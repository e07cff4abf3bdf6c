package simple

import (
	"github.com/dmitrymomot/autotls/core/certman"
)

// Config collects everything the demo HTTPS server needs: the
// certificate manager configuration plus the listen addresses.
type Config struct {
	Certman certman.Config

	AppName string `env:"APP_NAME" envDefault:"autotls-simple"`
	Env     string `env:"APP_ENV" envDefault:"development"`

	// HTTPSAddr is where TLS traffic is accepted.
	HTTPSAddr string `env:"HTTPS_ADDR" envDefault:":443"`

	// HTTPAddr serves http-01 challenge responses and redirects
	// everything else to HTTPS.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":80"`
}
