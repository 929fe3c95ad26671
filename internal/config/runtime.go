package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Runtime holds process-wide knobs read from SKYWARD_* environment variables.
type Runtime struct {
	APIRPS      float64       `envconfig:"API_RPS" default:"2"`
	APIBurst    int           `envconfig:"API_BURST" default:"5"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	// HTTPRetries applies to read-only requests only.
	HTTPRetries int    `envconfig:"HTTP_RETRIES" default:"2"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	UserAgent   string `envconfig:"USER_AGENT" default:"skyward/1.0"`
}

func LoadRuntime() (Runtime, error) {
	var rt Runtime
	if err := envconfig.Process("skyward", &rt); err != nil {
		return rt, err
	}
	return rt, nil
}

// LoadEnvFile exports the variables in a dotenv file without overriding ones
// already set. A missing file is only an error when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	return err
}
