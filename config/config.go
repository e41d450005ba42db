package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"impostor-draw-server/game"
)

// Config holds all configurable server and game parameters.
type Config struct {
	HTTPPort int `json:"http_port"`

	DrawingTimeSec int `json:"drawing_time_sec"`
	VotingTimeSec  int `json:"voting_time_sec"`
	MaxAttempts    int `json:"max_attempts"`
	MaxRounds      int `json:"max_rounds"`
	MinPlayers     int `json:"min_players"`
	MaxPlayers     int `json:"max_players"`
	MaxNameLength  int `json:"max_name_length"`

	DisconnectGraceMS int `json:"disconnect_grace_ms"`
	VoteSettleMS      int `json:"vote_settle_ms"`

	// DatabaseURL selects the Postgres store; empty keeps rooms in memory.
	DatabaseURL string `json:"database_url"`
	// Notifier is "local", "postgres" or "redis". Only used with a database.
	Notifier string `json:"notifier"`
	RedisURL string `json:"redis_url"`

	TokenSecret    string   `json:"token_secret"`
	TokenTTLHours  int      `json:"token_ttl_hours"`
	AllowedOrigins []string `json:"allowed_origins"`

	// MessagesPerSecond and MessageBurst rate limit each websocket.
	MessagesPerSecond int `json:"messages_per_second"`
	MessageBurst      int `json:"message_burst"`

	LogLevel string `json:"log_level"`
}

// Defaults returns a Config with the stock game settings.
func Defaults() *Config {
	return &Config{
		HTTPPort:          8080,
		DrawingTimeSec:    15,
		VotingTimeSec:     20,
		MaxAttempts:       3,
		MaxRounds:         3,
		MinPlayers:        3,
		MaxPlayers:        8,
		MaxNameLength:     20,
		DisconnectGraceMS: 2000,
		VoteSettleMS:      1000,
		Notifier:          "postgres",
		TokenTTLHours:     12,
		AllowedOrigins:    []string{"*"},
		MessagesPerSecond: 10,
		MessageBurst:      20,
		LogLevel:          "info",
	}
}

// Load reads configuration from an optional config.json file,
// then applies environment variable overrides. Fields not set
// in either source retain their default values.
func Load() *Config {
	cfg := Defaults()

	if f, err := os.Open("config.json"); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			slog.Warn("failed to parse config.json", "tag", "config", "err", err)
		}
	}

	overrideInt(&cfg.HTTPPort, "HTTP_PORT")
	overrideInt(&cfg.DrawingTimeSec, "DRAWING_TIME_SEC")
	overrideInt(&cfg.VotingTimeSec, "VOTING_TIME_SEC")
	overrideInt(&cfg.MaxAttempts, "MAX_ATTEMPTS")
	overrideInt(&cfg.MaxRounds, "MAX_ROUNDS")
	overrideInt(&cfg.MinPlayers, "MIN_PLAYERS")
	overrideInt(&cfg.MaxPlayers, "MAX_PLAYERS")
	overrideInt(&cfg.MaxNameLength, "MAX_NAME_LENGTH")
	overrideInt(&cfg.DisconnectGraceMS, "DISCONNECT_GRACE_MS")
	overrideInt(&cfg.VoteSettleMS, "VOTE_SETTLE_MS")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.Notifier, "NOTIFIER")
	overrideString(&cfg.RedisURL, "REDIS_URL")
	overrideString(&cfg.TokenSecret, "TOKEN_SECRET")
	overrideInt(&cfg.TokenTTLHours, "TOKEN_TTL_HOURS")
	overrideList(&cfg.AllowedOrigins, "ALLOWED_ORIGINS")
	overrideInt(&cfg.MessagesPerSecond, "MESSAGES_PER_SECOND")
	overrideInt(&cfg.MessageBurst, "MESSAGE_BURST")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")

	return cfg
}

// Rules returns the game rules carried by the config.
func (c *Config) Rules() game.Rules {
	return game.Rules{
		DrawingTime:   c.DrawingTimeSec,
		VotingTime:    c.VotingTimeSec,
		MaxAttempts:   c.MaxAttempts,
		MaxRounds:     c.MaxRounds,
		MinPlayers:    c.MinPlayers,
		MaxPlayers:    c.MaxPlayers,
		MaxNameLength: c.MaxNameLength,
	}
}

// DisconnectGrace is DisconnectGraceMS as a duration.
func (c *Config) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceMS) * time.Millisecond
}

// VoteSettle is VoteSettleMS as a duration.
func (c *Config) VoteSettle() time.Duration {
	return time.Duration(c.VoteSettleMS) * time.Millisecond
}

// TokenTTL is TokenTTLHours as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func overrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*field = n
		} else {
			slog.Warn("invalid integer in environment", "tag", "config", "key", envKey, "value", val)
		}
	}
}

func overrideString(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

// overrideList reads a comma-separated list.
func overrideList(field *[]string, envKey string) {
	val := os.Getenv(envKey)
	if val == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) > 0 {
		*field = out
	}
}
