package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr          string
	TelegramBotToken  string
	TelegramAPIURL    string
	MainAdminUsername string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	JWTSecret         string
	JWTIssuer         string
	AccessTokenTTL    time.Duration
	StudyTickInterval time.Duration
	ExamTickInterval  time.Duration
	ReminderLead      time.Duration
	NotifyTimeout     time.Duration
	Timezone          string
}

func Load() Config {
	return Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":5000"),
		TelegramBotToken:  getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:    getenv("TELEGRAM_API_URL", "https://api.telegram.org"),
		MainAdminUsername: getenv("MAIN_ADMIN_USERNAME", "MO2025_PROGRAMER"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		JWTSecret:         getenv("JWT_SECRET", ""),
		JWTIssuer:         getenv("JWT_ISSUER", "students-portal"),
		AccessTokenTTL:    getenvDuration("ACCESS_TOKEN_TTL", time.Hour),
		StudyTickInterval: getenvDuration("STUDY_TICK_INTERVAL", 30*time.Second),
		ExamTickInterval:  getenvDuration("EXAM_TICK_INTERVAL", 24*time.Hour),
		ReminderLead:      getenvDuration("REMINDER_LEAD", 5*time.Minute),
		NotifyTimeout:     getenvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		Timezone:          getenv("TIMEZONE", "Local"),
	}
}

// Location resolves the configured timezone, falling back to the process-local
// zone when the name cannot be loaded.
func (c Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
