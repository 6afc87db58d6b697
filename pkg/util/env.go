package util

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads .env.<env> first, then .env as fallback. Missing files
// are not an error in production where everything comes from real env.
func LoadEnv(env string) error {
	if err := godotenv.Load(".env." + env); err == nil {
		return nil
	}
	return godotenv.Load()
}

func GetEnv(key string) string { return os.Getenv(key) }

func GetEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetIntEnv(key string) int64 { return cast.ToInt64(os.Getenv(key)) }

// GetDurationEnv parses values like "3s" or "500ms"; def covers unset
// and unparsable values so callers always get a usable interval.
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d := cast.ToDuration(v)
	if d <= 0 {
		return def
	}
	return d
}
