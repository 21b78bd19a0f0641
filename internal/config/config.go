package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port           int
	NatsURL        string
	NatsToken      string
	DatabaseURL    string
	LogLevel       string
	APIToken       string
	StatePath      string
	Workers        int
	OnError        string
	MaxLineBytes   int
	SlackBotToken  string
	SlackChannel   string
	OutputDir      string
	IngestSubject  string
	CaptureSubject string
}

func Load() Config {
	return Config{
		Port:           envInt("FLOATCTL_PORT", 8760),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		APIToken:       envStr("FLOATCTL_API_TOKEN", ""),
		StatePath:      envStr("FLOATCTL_STATE_PATH", "~/.floatctl/ingest-state.json"),
		Workers:        envInt("FLOATCTL_WORKERS", 4),
		OnError:        strings.ToLower(envStr("FLOATCTL_ON_ERROR", "skip")),
		MaxLineBytes:   envInt("FLOATCTL_MAX_LINE_BYTES", 64*1024*1024),
		SlackBotToken:  envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:   envStr("SLACK_CHANNEL", ""),
		OutputDir:      envStr("FLOATCTL_OUTPUT_DIR", ""),
		IngestSubject:  envStr("FLOATCTL_INGEST_SUBJECT", "float.conversation.ingested"),
		CaptureSubject: envStr("FLOATCTL_CAPTURE_SUBJECT", "float.capture.submit"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
