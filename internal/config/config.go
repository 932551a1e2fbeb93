package config

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is the process configuration of the p01auth service
type Config struct {
	Port             int           `env:"P01_PORT" envDefault:"9000"`
	ServiceID        string        `env:"P01_SERVICE_ID"`
	ServiceName      string        `env:"P01_SERVICE_NAME"`
	ServiceLogo      string        `env:"P01_SERVICE_LOGO"`
	CallbackURL      string        `env:"P01_CALLBACK_URL"`
	SubscriptionMint string        `env:"P01_SUBSCRIPTION_MINT"`
	SessionTTL       time.Duration `env:"P01_SESSION_TTL" envDefault:"5m"`
	MaxTimestampAge  time.Duration `env:"P01_MAX_TIMESTAMP_AGE" envDefault:"60s"`
	RedisURL         string        `env:"P01_REDIS_URL"`
	EventTopic       string        `env:"P01_EVENT_TOPIC" envDefault:"p01auth.events"`
	SolanaRPCURL     string        `env:"P01_SOLANA_RPC_URL" envDefault:"https://api.mainnet-beta.solana.com"`
	QRSize           int           `env:"P01_QR_SIZE" envDefault:"256"`
	JWTKeyFile       string        `env:"P01_JWT_KEY_FILE"`
	AccessTokenTTL   time.Duration `env:"P01_ACCESS_TOKEN_TTL" envDefault:"15m"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	GinMode          string        `env:"GIN_MODE" envDefault:"release"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ServiceID) == "" {
		errs = append(errs, errors.New("P01_SERVICE_ID is required"))
	}
	if u, err := url.Parse(c.CallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("P01_CALLBACK_URL must be an absolute URL"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("P01_PORT must be a valid port"))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, errors.New("P01_SESSION_TTL must not be negative"))
	}
	if c.MaxTimestampAge <= 0 {
		errs = append(errs, errors.New("P01_MAX_TIMESTAMP_AGE must be positive"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("P01_ACCESS_TOKEN_TTL must be positive"))
	}
	if c.QRSize <= 0 {
		errs = append(errs, errors.New("P01_QR_SIZE must be positive"))
	}
	return errors.Join(errs...)
}
