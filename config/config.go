package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Config holds application configuration values.
type Config struct {
	AppPort           string
	DBUser            string
	DBPassword        string
	DBHost            string
	DBPort            string
	DBName            string
	JWTSecret         string
	SchedulerInterval time.Duration
	GatewaySettleMs   int
}

// Load reads environment variables and returns a populated Config.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		AppPort:           getEnv("PORT", "8080"),
		DBUser:            getEnv("DB_USER", "root"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBHost:            getEnv("DB_HOST", "127.0.0.1"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBName:            getEnv("DB_NAME", "tiffinbox"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		SchedulerInterval: time.Duration(getEnvInt("SCHEDULER_INTERVAL_MINUTES", 60)) * time.Minute,
		GatewaySettleMs:   getEnvInt("GATEWAY_SETTLE_MS", 1000),
	}
}

// InitDB opens the MySQL connection described by the environment.
func InitDB() (*gorm.DB, error) {
	cfg := Load()
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
