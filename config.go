package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

//////////////////////////////////////////////////////////////
// CONFIGURATION
//////////////////////////////////////////////////////////////

const (
	DEFAULT_PREFIX       = "."
	DEFAULT_DB_PATH      = "file:elzbot.db?_foreign_keys=on"
	DEFAULT_STATE_DIR    = "data"
	DEFAULT_FLUSH_PERIOD = 5 * time.Minute

	COMPLETION_TIMEOUT       = 30 * time.Second
	COMPLETION_IMAGE_TIMEOUT = 60 * time.Second
	TTS_TIMEOUT              = 30 * time.Second
	UPLOAD_TIMEOUT           = 30 * time.Second
	TOOL_TIMEOUT             = 60 * time.Second
)

// Config is everything the bot reads from the environment. A .env file in
// the working directory is honored when present.
type Config struct {
	Prefix     string
	DBPath     string
	StateDir   string
	FlushEvery time.Duration

	// AdminNumbers are bare phone numbers allowed to run admin commands.
	AdminNumbers []string

	CompletionURL string
	TTSURL        string
	UploadURL     string
	ImageGenURL   string
	ChordURL      string
	HolidayURL    string
	TikTokURL     string
	IGURL         string
	BankURL       string
	FakeImageURL  string
	FaceScanURL   string

	// PatternsFile overrides the embedded pattern tables when set.
	PatternsFile string

	LogLevel string
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Prefix:        envOr("BOT_PREFIX", DEFAULT_PREFIX),
		DBPath:        envOr("BOT_DB", DEFAULT_DB_PATH),
		StateDir:      envOr("STATE_DIR", DEFAULT_STATE_DIR),
		FlushEvery:    DEFAULT_FLUSH_PERIOD,
		CompletionURL: os.Getenv("COMPLETION_API_URL"),
		TTSURL:        os.Getenv("TTS_API_URL"),
		UploadURL:     os.Getenv("UPLOAD_API_URL"),
		ImageGenURL:   os.Getenv("IMAGE_GEN_API_URL"),
		ChordURL:      os.Getenv("CHORD_API_URL"),
		HolidayURL:    os.Getenv("HOLIDAY_API_URL"),
		TikTokURL:     os.Getenv("TIKTOK_API_URL"),
		IGURL:         os.Getenv("IG_API_URL"),
		BankURL:       os.Getenv("BANK_API_URL"),
		FakeImageURL:  os.Getenv("FAKE_IMAGE_DETECTOR_API_URL"),
		FaceScanURL:   os.Getenv("FACE_SCAN_API_URL"),
		PatternsFile:  os.Getenv("PATTERNS_FILE"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
	}

	if cfg.CompletionURL == "" {
		return nil, fmt.Errorf("COMPLETION_API_URL is missing from the environment")
	}

	if raw := os.Getenv("FLUSH_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FLUSH_INTERVAL %q: %w", raw, err)
		}
		cfg.FlushEvery = d
	}

	for _, raw := range strings.Split(os.Getenv("ADMIN_NUMBERS"), ",") {
		if n := sanitizePhone(raw); n != "" {
			cfg.AdminNumbers = append(cfg.AdminNumbers, n)
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var nonDigitRe = regexp.MustCompile(`[^0-9]`)

// sanitizePhone removes all non-numeric characters from a phone number.
func sanitizePhone(phone string) string {
	return nonDigitRe.ReplaceAllString(phone, "")
}
