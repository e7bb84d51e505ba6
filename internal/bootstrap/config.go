package bootstrap

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds every startup parameter of the session server. Defaults match
// the reference deployment named in the system design (§6): TCP port 8888,
// one-minute matches, a fifteen-second invitation timeout, five words per
// match, and a registration RPC on port 5678.
type Config struct {
	ListenAddr       string `mapstructure:"LISTEN_ADDR"`
	RegistrationAddr string `mapstructure:"REGISTRATION_ADDR"`

	MatchMinutes  int `mapstructure:"MATCH_MINUTES"`
	AcceptSeconds int `mapstructure:"ACCEPT_SECONDS"`
	MatchWords    int `mapstructure:"MATCH_WORDS"`

	WorkerPoolSize int `mapstructure:"WORKER_POOL_SIZE"`

	DatabasePath string `mapstructure:"DATABASE_PATH"`
	StoreBackend string `mapstructure:"STORE_BACKEND"` // "file" or "mongo"

	MongoURI string `mapstructure:"MONGO_URI"`
	RedisURL string `mapstructure:"REDIS_URL"`

	WordOracleURL string `mapstructure:"WORD_ORACLE_URL"`
}

func (c *Config) MatchTimer() time.Duration {
	return time.Duration(c.MatchMinutes) * time.Minute
}

func (c *Config) AcceptTimer() time.Duration {
	return time.Duration(c.AcceptSeconds) * time.Second
}

// Setup reads configuration from the given .env-style file, falling back to
// the reference deployment's defaults for anything left unset, then
// overlays environment variables (so a deployment can override without a
// file on disk).
func Setup(cfgPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8888")
	v.SetDefault("REGISTRATION_ADDR", ":5678")
	v.SetDefault("MATCH_MINUTES", 1)
	v.SetDefault("ACCEPT_SECONDS", 15)
	v.SetDefault("MATCH_WORDS", 5)
	v.SetDefault("WORKER_POOL_SIZE", 4)
	v.SetDefault("DATABASE_PATH", "./wordquizzle.json")
	v.SetDefault("STORE_BACKEND", "file")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
