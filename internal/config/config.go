// Package config loads the service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Converter backends.
const (
	ConverterExec   = "exec"
	ConverterDocker = "docker"
)

type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64

	// Rate limiting of uploads, per client IP
	RateLimit float64
	RateBurst int

	// Engine
	ModelPath   string
	States      int
	WhisperPath string
	Language    string
	Translate   bool
	Threads     int

	// Conversion
	TmpDir      string
	Converter   string // "exec" or "docker"
	FFmpegPath  string
	FFmpegImage string

	// Progress events; empty RedisAddr keeps them in process
	RedisAddr     string
	EventsChannel string

	LogLevel  string
	LogFormat string
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load reads .env if it exists, then the environment. Invalid values are reported together.
func Load() (Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	p := parser{}
	cfg := Config{
		Port:            p.intVar("PORT", 5000),
		ShutdownTimeout: p.durationVar("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxUploadBytes:  p.int64Var("MAX_UPLOAD_BYTES", 2<<30),
		RateLimit:       p.floatVar("RATE_LIMIT", 0.5),
		RateBurst:       p.intVar("RATE_BURST", 5),
		ModelPath:       getenvDefault("MODEL_PATH", "./models/ggml-large.bin"),
		States:          p.intVar("NSTATES", 1),
		WhisperPath:     getenvDefault("WHISPER_PATH", "whisper-cli"),
		Language:        getenvDefault("LANGUAGE", "en"),
		Translate:       p.boolVar("TRANSLATE", true),
		Threads:         p.intVar("THREADS", 0),
		TmpDir:          getenvDefault("TMP_DIR", "./tmpfiles"),
		Converter:       getenvDefault("CONVERTER", ConverterExec),
		FFmpegPath:      getenvDefault("FFMPEG_PATH", "ffmpeg"),
		FFmpegImage:     getenvDefault("FFMPEG_IMAGE", "jrottenberg/ffmpeg:6-alpine"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		EventsChannel:   getenvDefault("EVENTS_CHANNEL", "goscribe:events"),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		LogFormat:       getenvDefault("LOG_FORMAT", "json"),
	}
	if err := errors.Join(append(p.errs, cfg.Validate())...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that parse but make no sense.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT=%d is out of range", c.Port))
	}
	if c.States < 1 {
		errs = append(errs, fmt.Errorf("config: NSTATES=%d must be at least 1", c.States))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("config: THREADS=%d must not be negative", c.Threads))
	}
	if c.MaxUploadBytes < 1 {
		errs = append(errs, fmt.Errorf("config: MAX_UPLOAD_BYTES=%d must be positive", c.MaxUploadBytes))
	}
	if c.Converter != ConverterExec && c.Converter != ConverterDocker {
		errs = append(errs, fmt.Errorf("config: CONVERTER=%q must be %q or %q", c.Converter, ConverterExec, ConverterDocker))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("config: LOG_FORMAT=%q must be json or text", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getenvDefault(k, fallback string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fallback
}

// parser collects every malformed variable instead of stopping at the first one.
type parser struct {
	errs []error
}

func (p *parser) intVar(k string, fallback int) int {
	return parse(p, k, fallback, strconv.Atoi)
}

func (p *parser) int64Var(k string, fallback int64) int64 {
	return parse(p, k, fallback, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func (p *parser) floatVar(k string, fallback float64) float64 {
	return parse(p, k, fallback, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

func (p *parser) boolVar(k string, fallback bool) bool {
	return parse(p, k, fallback, strconv.ParseBool)
}

func (p *parser) durationVar(k string, fallback time.Duration) time.Duration {
	return parse(p, k, fallback, time.ParseDuration)
}

func parse[T any](p *parser, k string, fallback T, fn func(string) (T, error)) T {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	out, err := fn(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s=%q is not valid: %w", k, v, err))
		return fallback
	}
	return out
}
