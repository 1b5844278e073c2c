package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "KNIFFEL"

type Config struct {
	Bind           string
	Port           int
	DataDir        string
	DatabaseURL    string
	RelayURL       string
	PublicURL      string
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	LogLevel       string
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid connect timeout (must be positive): %s", c.ConnectTimeout)
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("invalid retry interval (must not be negative): %s", c.RetryInterval)
	}
	if c.DataDir == "" && c.DatabaseURL == "" {
		return errors.New("one of --data-dir or --database-url is required")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Level returns the configured log level, or info if it does not parse.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// RegisterFlags adds every setting to fs, bound to cfg. Values from KNIFFEL_*
// environment variables become the flag values; flags given on the command line
// still win because they are parsed afterwards.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: KNIFFEL_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: KNIFFEL_PORT)")
	fs.StringVar(&cfg.DataDir, "data-dir", "./data", "directory for saved game and peer data (env: KNIFFEL_DATA_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres url; replaces the data directory when set (env: KNIFFEL_DATABASE_URL)")
	fs.StringVar(&cfg.RelayURL, "relay-url", "", "websocket url of the peer relay; sync is disabled when empty (env: KNIFFEL_RELAY_URL)")
	fs.StringVar(&cfg.PublicURL, "public-url", "http://localhost:8080", "base url used in share links (env: KNIFFEL_PUBLIC_URL)")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 10*time.Second, "time to wait for a peer connection to open (env: KNIFFEL_CONNECT_TIMEOUT)")
	fs.DurationVar(&cfg.RetryInterval, "retry-interval", 30*time.Second, "period for redialing known peers, 0 to disable (env: KNIFFEL_RETRY_INTERVAL)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: KNIFFEL_LOG_LEVEL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
