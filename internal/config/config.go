package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StorePebble   = "pebble"
)

// Event drivers.
const (
	EventsNone   = "none"
	EventsKafka  = "kafka"  // segmentio/kafka-go
	EventsSarama = "sarama" // IBM/sarama
)

type HTTP struct {
	Addr        string
	CORSOrigins []string
}

type Store struct {
	Driver      string
	PostgresDSN string
	PebblePath  string
}

type Events struct {
	Driver      string
	Brokers     []string
	TopicPrefix string // topics are <prefix>.<event kind>
	Buffer      int    // events queued for the broker before dropping
}

type Log struct {
	Level string
	File  string // optional, tee JSON logs to this file
}

type Config struct {
	HTTP   HTTP
	Store  Store
	Events Events
	Log    Log
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Store: Store{
			Driver:     StoreMemory,
			PebblePath: "data/ledger",
		},
		Events: Events{
			Driver:      EventsNone,
			Brokers:     []string{"localhost:9092"},
			TopicPrefix: "ledger",
			Buffer:      1024,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.HTTP.CORSOrigins = splitList(origins)
	}

	cfg.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.PostgresDSN = getEnv("POSTGRES_DSN", cfg.Store.PostgresDSN)
	cfg.Store.PebblePath = getEnv("PEBBLE_PATH", cfg.Store.PebblePath)

	cfg.Events.Driver = strings.ToLower(getEnv("EVENTS_DRIVER", cfg.Events.Driver))
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.Brokers = splitList(brokers)
	}
	cfg.Events.TopicPrefix = getEnv("EVENTS_TOPIC_PREFIX", cfg.Events.TopicPrefix)
	if buf := os.Getenv("EVENTS_BUFFER"); buf != "" {
		n, err := strconv.Atoi(buf)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("EVENTS_BUFFER: want a positive integer, got %q", buf)
		}
		cfg.Events.Buffer = n
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	return cfg, cfg.Validate()
}

// Validate checks driver names and the settings each driver needs.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
		}
	case StorePebble:
		if c.Store.PebblePath == "" {
			return fmt.Errorf("STORE_DRIVER=pebble requires PEBBLE_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Events.Driver {
	case EventsNone:
	case EventsKafka, EventsSarama:
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("EVENTS_DRIVER=%s requires KAFKA_BROKERS", c.Events.Driver)
		}
	default:
		return fmt.Errorf("unknown EVENTS_DRIVER %q", c.Events.Driver)
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
