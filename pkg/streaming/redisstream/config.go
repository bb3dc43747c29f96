package redisstream

import (
	"encoding/json"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/redis/go-redis/v9"
	"gopkg.in/guregu/null.v3"

	wserrors "github.com/vnykmshr/webstreams/pkg/common/errors"
)

// Config holds the connection and stream settings shared by Source and
// Sink. Unset fields keep their defaults when configs are merged.
type Config struct {
	// Connection.
	Addr     null.String `json:"addr" envconfig:"WEBSTREAMS_REDIS_ADDR"`
	Password null.String `json:"password" envconfig:"WEBSTREAMS_REDIS_PASSWORD"`
	DB       null.Int    `json:"db" envconfig:"WEBSTREAMS_REDIS_DB"`

	// Key is the Redis stream key.
	Key null.String `json:"key" envconfig:"WEBSTREAMS_REDIS_KEY"`

	// StartID is the entry ID a Source reads after. "$" only sees entries
	// added once reading started, "0" replays the whole stream.
	StartID null.String `json:"startID" envconfig:"WEBSTREAMS_REDIS_START_ID"`

	// Count caps the entries fetched by one XREAD.
	Count null.Int `json:"count" envconfig:"WEBSTREAMS_REDIS_COUNT"`

	// Block is how long one XREAD waits for new entries, as a duration
	// string such as "500ms". It also bounds how long cancelling a Source
	// takes, so it must be positive.
	Block null.String `json:"block" envconfig:"WEBSTREAMS_REDIS_BLOCK"`

	// MaxLen trims the stream approximately on every XADD (0 = no trim).
	MaxLen null.Int `json:"maxLen" envconfig:"WEBSTREAMS_REDIS_MAX_LEN"`

	// HighWaterMark is the queue size of the stream, in entries.
	HighWaterMark null.Int `json:"highWaterMark" envconfig:"WEBSTREAMS_REDIS_HIGH_WATER_MARK"`
}

// NewConfig creates a Config with default values.
func NewConfig() Config {
	return Config{
		Addr:          null.NewString("localhost:6379", false),
		DB:            null.NewInt(0, false),
		StartID:       null.NewString("$", false),
		Count:         null.NewInt(10, false),
		Block:         null.NewString("1s", false),
		MaxLen:        null.NewInt(0, false),
		HighWaterMark: null.NewInt(100, false),
	}
}

// Apply saves the valid values of cfg in the receiver.
func (c Config) Apply(cfg Config) Config {
	if cfg.Addr.Valid && cfg.Addr.String != "" {
		c.Addr = cfg.Addr
	}
	if cfg.Password.Valid {
		c.Password = cfg.Password
	}
	if cfg.DB.Valid {
		c.DB = cfg.DB
	}
	if cfg.Key.Valid && cfg.Key.String != "" {
		c.Key = cfg.Key
	}
	if cfg.StartID.Valid && cfg.StartID.String != "" {
		c.StartID = cfg.StartID
	}
	if cfg.Count.Valid {
		c.Count = cfg.Count
	}
	if cfg.Block.Valid {
		c.Block = cfg.Block
	}
	if cfg.MaxLen.Valid {
		c.MaxLen = cfg.MaxLen
	}
	if cfg.HighWaterMark.Valid {
		c.HighWaterMark = cfg.HighWaterMark
	}
	return c
}

// Validate checks the merged configuration.
func (c Config) Validate() error {
	if c.Key.String == "" {
		return wserrors.NewValidationError("redisstream", "key", c.Key.String, "cannot be empty").
			WithHint("set WEBSTREAMS_REDIS_KEY or the key option")
	}
	if c.Count.Int64 <= 0 {
		return wserrors.NewValidationError("redisstream", "count", c.Count.Int64, "must be positive")
	}
	if c.MaxLen.Int64 < 0 {
		return wserrors.NewValidationError("redisstream", "maxLen", c.MaxLen.Int64, "must not be negative")
	}
	if c.HighWaterMark.Int64 < 0 {
		return wserrors.NewValidationError("redisstream", "highWaterMark", c.HighWaterMark.Int64, "must not be negative")
	}
	if _, err := c.blockTimeout(); err != nil {
		return err
	}
	return nil
}

func (c Config) blockTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Block.String)
	if err != nil || d <= 0 {
		return 0, wserrors.NewValidationError("redisstream", "block", c.Block.String, "must be a positive duration")
	}
	return d, nil
}

// Options returns client options for the configured server.
func (c Config) Options() *redis.Options {
	return &redis.Options{
		Addr:     c.Addr.String,
		Password: c.Password.String,
		DB:       int(c.DB.Int64),
	}
}

// GetConsolidatedConfig combines the default values with the JSON config
// and the environment, in that order of precedence, and validates the
// result.
func GetConsolidatedConfig(jsonRawConf json.RawMessage, env map[string]string) (Config, error) {
	result := NewConfig()
	if jsonRawConf != nil {
		jsonConf := Config{}
		if err := json.Unmarshal(jsonRawConf, &jsonConf); err != nil {
			return result, err
		}
		result = result.Apply(jsonConf)
	}

	envConfig := Config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, err
	}
	result = result.Apply(envConfig)

	return result, result.Validate()
}
