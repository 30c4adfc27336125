package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	"github.com/joho/godotenv"
)

func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

func GetEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return ""
	}
	return strings.TrimSpace(value)
}

func GetEnvString(key string, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}

	return strings.TrimSpace(value)
}

func GetEnvNumeric(key string, defaultValue int) float64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return float64(defaultValue)
	}
	returnValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return float64(defaultValue)
	}

	return returnValue
}

func GetEnvInt(key string, defaultValue int) int {
	return int(GetEnvNumeric(key, defaultValue))
}

// GetEnvSeconds reads a whole number of seconds.
func GetEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(GetEnvInt(key, defaultValue)) * time.Second
}

func GetEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	}

	return defaultValue
}
