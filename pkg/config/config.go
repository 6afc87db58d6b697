package config

import (
	"log"
	"os"
	"time"

	"safevoice/pkg/cache"
	"safevoice/pkg/logger"
	"safevoice/pkg/util"
)

// TwilioConfig carries credentials for the SMS / WhatsApp channels.
// Empty credentials switch the dispatcher into simulated mode rather
// than crashing the caller.
type TwilioConfig struct {
	AccountSID   string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken    string `env:"TWILIO_AUTH_TOKEN"`
	SMSFrom      string `env:"TWILIO_SMS_FROM"`
	WhatsAppFrom string `env:"TWILIO_WHATSAPP_FROM"`
}

// MetaConfig is the alternative WhatsApp path via the Graph API.
type MetaConfig struct {
	Token         string `env:"WHATSAPP_TOKEN"`
	PhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
}

// Config holds everything the server reads from the environment.
type Config struct {
	Addr     string `env:"ADDR"`
	Mode     string `env:"MODE"`
	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`
	Log      logger.LogConfig
	Cache    cache.Config
	Twilio   TwilioConfig
	Meta     MetaConfig

	// AppURL is the public base used to build tracking links embedded
	// in alert messages.
	AppURL string `env:"APP_URL"`

	// PollInterval bounds propagation latency for observers that can
	// only poll; RestartDelay spaces watchdog session restarts so a
	// provider-imposed session end never becomes a tight loop.
	PollInterval    time.Duration `env:"POLL_INTERVAL"`
	RestartDelay    time.Duration `env:"RESTART_DELAY"`
	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT"`

	// RetentionDays controls the daily purge of location samples for
	// long-resolved emergencies.
	RetentionDays int    `env:"RETENTION_DAYS"`
	RateLimit     string `env:"RATE_LIMIT"` // ulule format, e.g. "60-M"
}

var GlobalConfig *Config

func Load() error {
	// 1. load .env by environment
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. global config
	GlobalConfig = &Config{
		Addr:     util.GetEnvDefault("ADDR", ":8080"),
		Mode:     util.GetEnv("MODE"),
		DBDriver: util.GetEnvDefault("DB_DRIVER", "sqlite"),
		DSN:      util.GetEnvDefault("DSN", "safevoice.db"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Cache: cache.Config{
			Type: util.GetEnvDefault("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:     util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password: util.GetEnv("REDIS_PASSWORD"),
				DB:       int(util.GetIntEnv("REDIS_DB")),
			},
			Local: cache.LocalConfig{
				DefaultExpiration: util.GetDurationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 30*time.Second),
				CleanupInterval:   util.GetDurationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 5*time.Minute),
			},
		},
		Twilio: TwilioConfig{
			AccountSID:   util.GetEnv("TWILIO_ACCOUNT_SID"),
			AuthToken:    util.GetEnv("TWILIO_AUTH_TOKEN"),
			SMSFrom:      util.GetEnv("TWILIO_SMS_FROM"),
			WhatsAppFrom: util.GetEnv("TWILIO_WHATSAPP_FROM"),
		},
		Meta: MetaConfig{
			Token:         util.GetEnv("WHATSAPP_TOKEN"),
			PhoneNumberID: util.GetEnv("WHATSAPP_PHONE_NUMBER_ID"),
		},
		AppURL:          util.GetEnvDefault("APP_URL", "https://safe-voice.app"),
		PollInterval:    util.GetDurationEnv("POLL_INTERVAL", 3*time.Second),
		RestartDelay:    util.GetDurationEnv("RESTART_DELAY", 300*time.Millisecond),
		DispatchTimeout: util.GetDurationEnv("DISPATCH_TIMEOUT", 10*time.Second),
		RetentionDays:   int(util.GetIntEnv("RETENTION_DAYS")),
		RateLimit:       util.GetEnvDefault("RATE_LIMIT", "120-M"),
	}
	if GlobalConfig.RetentionDays <= 0 {
		GlobalConfig.RetentionDays = 30
	}
	return nil
}
