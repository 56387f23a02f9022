// Package config loads runtime configuration from the environment, with an
// optional .env file for local development. main stays lean: everything
// tunable lives here with a sensible default.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration for the ledger service.
type Config struct {
	Addr         string   `mapstructure:"addr"`
	PostgresDSN  string   `mapstructure:"postgres_dsn"`
	RedisURL     string   `mapstructure:"redis_url"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	// EscrowDeadline is how long locked escrow waits for seller confirmation
	// before the sweep expires the transfer.
	EscrowDeadline time.Duration `mapstructure:"escrow_deadline"`
	// VotingWindow is how long community voting stays open on a dispute.
	VotingWindow time.Duration `mapstructure:"voting_window"`
	// VoteQuorum is the minimum number of non-abstain votes required for a
	// dispute to auto-resolve at the voting deadline.
	VoteQuorum int `mapstructure:"vote_quorum"`
	// RetryBudget bounds optimistic-concurrency retries before surfacing
	// Conflict to the caller.
	RetryBudget int `mapstructure:"retry_budget"`
	// SweepInterval is the period of the background deadline sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// IdentityCacheTTL enforces retention for cached identity lookups.
	IdentityCacheTTL time.Duration `mapstructure:"identity_cache_ttl"`

	// JWTSigningKey verifies bearer tokens on the API.
	JWTSigningKey string `mapstructure:"jwt_signing_key"`

	Reputation Reputation `mapstructure:"reputation"`
}

// Reputation holds the score adjustment magnitudes. The exact formula is a
// deployment parameter, so it is configuration rather than code.
type Reputation struct {
	TransferCompleted int `mapstructure:"transfer_completed"`
	DisputeWon        int `mapstructure:"dispute_won"`
	DisputeLost       int `mapstructure:"dispute_lost"`
}

// Load builds the configuration from LANDLEDGER_* environment variables,
// reading .env first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LANDLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("kafka_brokers", nil)
	v.SetDefault("kafka_topic", "ledger.events")
	v.SetDefault("escrow_deadline", 72*time.Hour)
	v.SetDefault("voting_window", 7*24*time.Hour)
	v.SetDefault("vote_quorum", 10)
	v.SetDefault("retry_budget", 3)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("identity_cache_ttl", 5*time.Minute)
	v.SetDefault("jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("reputation.transfer_completed", 1)
	v.SetDefault("reputation.dispute_won", 2)
	v.SetDefault("reputation.dispute_lost", 5)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if brokers := v.GetString("kafka_brokers"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg, nil
}
