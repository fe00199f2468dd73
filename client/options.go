package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luma/keel/internal/env"
)

// Options configures a Client.
type Options struct {
	// Hostname and Port locate the server for discovery.
	Hostname string
	Port     int

	// UseTLS selects https/wss schemes.
	UseTLS bool

	// Token seeds the session with an existing bearer token.
	Token string

	// Username and Password are required by Login.
	Username string
	Password string

	// ClientID, when set, is attached to every stream request.
	ClientID string

	// Version is the preferred API major version.
	Version int

	// Proxied discards server reported endpoint hosts in favour of the
	// literal connection host and port. Needed when the server sits
	// behind a reverse proxy whose external address differs from what
	// the server believes about itself.
	Proxied bool

	// Fallback synthesizes local endpoints when discovery fails instead
	// of propagating the failure.
	Fallback bool

	// ConnectionTimeout arms the stream watchdog; see transport.Options.
	ConnectionTimeout time.Duration

	Log *zap.Logger
}

// DefaultOptions targets a local unsecured server on the conventional
// Signal K port.
func DefaultOptions() Options {
	return Options{
		Hostname: "localhost",
		Port:     3000,
		Version:  1,
	}
}

// OptionsFromEnv builds options from KEEL_* environment settings,
// falling back to the defaults for anything unset.
func OptionsFromEnv(ctx context.Context) (Options, error) {
	settings, err := env.Load(ctx)
	if err != nil {
		return Options{}, err
	}

	options := DefaultOptions()

	if settings.Host != "" {
		options.Hostname = settings.Host
	}

	if settings.Port != 0 {
		options.Port = settings.Port
	}

	options.UseTLS = settings.UseTLS
	options.Token = settings.Token

	if settings.Debug {
		log, err := env.MakeLogger()
		if err != nil {
			return Options{}, err
		}

		options.Log = log
	}

	return options, nil
}

func (o Options) log() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}

	return o.Log
}

func (o Options) version() int {
	if o.Version == 0 {
		return 1
	}

	return o.Version
}
