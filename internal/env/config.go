package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Settings are the connection defaults read from the environment.
type Settings struct {
	Host   string `env:"KEEL_HOST"`
	Port   int    `env:"KEEL_PORT"`
	UseTLS bool   `env:"KEEL_USE_TLS"`
	Token  string `env:"KEEL_TOKEN"`
	Debug  bool   `env:"KEEL_DEBUG"`
}

// Load reads settings from a .env.local file (when present) and the
// process environment.
func Load(ctx context.Context) (*Settings, error) {
	settings := Settings{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &settings); err != nil {
		return nil, err
	}

	return &settings, nil
}
