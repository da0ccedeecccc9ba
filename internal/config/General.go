package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultID is the ID of the vault this engine instance manages.
	VaultID uint64

	// AdminAddress is the address granted the admin capability at startup.
	AdminAddress string
	// OperatorAddress is the address granted the initial operator capability.
	OperatorAddress string

	// DBHost, DBPort, DBUser, DBPassword, DBName, DBSSLMode configure the
	// Postgres connection for operation history and epoch loss reports.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// WebPort is the port for the JSON status API.
	WebPort string

	// PriceFeedURL is the endpoint polled by the HTTP price feed, empty to
	// disable polling and rely on manually posted prices.
	PriceFeedURL string
	// PriceFeedAPIKeyEnv names the env var holding the feed API key.
	PriceFeedAPIKey string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Connection-critical variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultID, err = getEnvAsUint64("YVE_VAULT_ID")
	if err != nil {
		return err
	}

	AdminAddress, err = getEnv("YVE_ADMIN_ADDRESS")
	if err != nil {
		return err
	}

	OperatorAddress, err = getEnv("YVE_OPERATOR_ADDRESS")
	if err != nil {
		return err
	}

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}
	DBPort, err = getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}
	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}
	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}
	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}
	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	PriceFeedURL = os.Getenv("PRICE_FEED_URL")
	PriceFeedAPIKey = os.Getenv("PRICE_FEED_API_KEY")

	log.Debug().
		Uint64("VaultID", VaultID).
		Str("AdminAddress", AdminAddress).
		Str("OperatorAddress", OperatorAddress).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}
