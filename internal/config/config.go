/**
 * @description
 * This package handles the configuration management for the wallet-service.
 * It uses the Viper library to read configuration from environment variables
 * and an optional .env file, providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	PiAPIBaseURL               string `mapstructure:"PI_API_BASE_URL"`
	PiAPIKey                   string `mapstructure:"PI_API_KEY"`
	PiNetworkURL               string `mapstructure:"PI_NETWORK_URL"`
	PiWalletAddress            string `mapstructure:"PI_WALLET_ADDRESS"`
	PiWalletSeed               string `mapstructure:"PI_WALLET_SEED"`
	SettlementStrategy         string `mapstructure:"SETTLEMENT_STRATEGY"`
	ExternalCallTimeoutSeconds int    `mapstructure:"EXTERNAL_CALL_TIMEOUT_SECONDS"`
	WithdrawalRatePerMinute    int    `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "3000")
	viper.SetDefault("PI_API_BASE_URL", "https://api.minepi.com")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wallet:rate_limit")
	viper.SetDefault("SETTLEMENT_STRATEGY", "platform")
	viper.SetDefault("EXTERNAL_CALL_TIMEOUT_SECONDS", 30)
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PI_API_BASE_URL")
	_ = viper.BindEnv("PI_API_KEY")
	_ = viper.BindEnv("PI_NETWORK_URL")
	_ = viper.BindEnv("PI_WALLET_ADDRESS")
	_ = viper.BindEnv("PI_WALLET_SEED")
	_ = viper.BindEnv("SETTLEMENT_STRATEGY")
	_ = viper.BindEnv("EXTERNAL_CALL_TIMEOUT_SECONDS")
	_ = viper.BindEnv("WITHDRAWAL_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}
