/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	AppEnv     string `mapstructure:"APP_ENV"`
	AppBaseURL string `mapstructure:"APP_BASE_URL"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	FlutterwaveBaseURL     string `mapstructure:"FLUTTERWAVE_BASE_URL"`
	FlutterwaveSecretKey   string `mapstructure:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveSecretHash  string `mapstructure:"FLUTTERWAVE_SECRET_HASH"`
	FlutterwaveRedirectURL string `mapstructure:"FLUTTERWAVE_REDIRECT_URL"`
	FlutterwaveCallbackURL string `mapstructure:"FLUTTERWAVE_CALLBACK_URL"`

	BridgeRelayURL          string `mapstructure:"BRIDGE_RELAY_URL"`
	BridgeRelayAPIKey       string `mapstructure:"BRIDGE_RELAY_API_KEY"`
	DefaultRecipientAddress string `mapstructure:"DEFAULT_RECIPIENT_ADDRESS"`
	TreasuryAddress         string `mapstructure:"TREASURY_ADDRESS"`

	TwilioAccountSID     string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppNumber string `mapstructure:"TWILIO_WHATSAPP_NUMBER"`

	AdminAPIKey string `mapstructure:"ADMIN_API_KEY"`

	PaymentTimeoutMinutes    int    `mapstructure:"PAYMENT_TIMEOUT_MINUTES"`
	SessionMaxAgeMinutes     int    `mapstructure:"SESSION_MAX_AGE_MINUTES"`
	FulfillmentRetentionHrs  int    `mapstructure:"FULFILLMENT_RETENTION_HOURS"`
	PollMaxAttempts          int    `mapstructure:"POLL_MAX_ATTEMPTS"`
	PollIntervalSeconds      int    `mapstructure:"POLL_INTERVAL_SECONDS"`
	PayoutMaxAttempts        int    `mapstructure:"PAYOUT_MAX_ATTEMPTS"`
	PayoutRetryDelaySeconds  int    `mapstructure:"PAYOUT_RETRY_DELAY_SECONDS"`
	NotifyDelaySeconds       int    `mapstructure:"NOTIFY_DELAY_SECONDS"`
	SweepSchedule            string `mapstructure:"SWEEP_SCHEDULE"`
	CleanupSchedule          string `mapstructure:"CLEANUP_SCHEDULE"`
	WebhookRateLimitRequests int    `mapstructure:"WEBHOOK_RATE_LIMIT_REQUESTS"`
	WebhookRateLimitMinutes  int    `mapstructure:"WEBHOOK_RATE_LIMIT_MINUTES"`
}

// IsDevelopment reports whether the service runs in a development
// environment, which relaxes webhook signature checks.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == ""
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "afribridge:rate_limit")
	viper.SetDefault("PAYMENT_TIMEOUT_MINUTES", 30)
	viper.SetDefault("SESSION_MAX_AGE_MINUTES", 60)
	viper.SetDefault("FULFILLMENT_RETENTION_HOURS", 24)
	viper.SetDefault("POLL_MAX_ATTEMPTS", 10)
	viper.SetDefault("POLL_INTERVAL_SECONDS", 3)
	viper.SetDefault("PAYOUT_MAX_ATTEMPTS", 3)
	viper.SetDefault("PAYOUT_RETRY_DELAY_SECONDS", 5)
	viper.SetDefault("NOTIFY_DELAY_SECONDS", 30)
	viper.SetDefault("SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("CLEANUP_SCHEDULE", "0 0 * * *")
	viper.SetDefault("WEBHOOK_RATE_LIMIT_REQUESTS", 100)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_MINUTES", 15)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("APP_ENV", "APP_ENV", "NODE_ENV")
	_ = viper.BindEnv("APP_BASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("FLUTTERWAVE_BASE_URL")
	_ = viper.BindEnv("FLUTTERWAVE_SECRET_KEY")
	_ = viper.BindEnv("FLUTTERWAVE_SECRET_HASH")
	_ = viper.BindEnv("FLUTTERWAVE_REDIRECT_URL")
	_ = viper.BindEnv("FLUTTERWAVE_CALLBACK_URL")
	_ = viper.BindEnv("BRIDGE_RELAY_URL")
	_ = viper.BindEnv("BRIDGE_RELAY_API_KEY")
	_ = viper.BindEnv("DEFAULT_RECIPIENT_ADDRESS")
	_ = viper.BindEnv("TREASURY_ADDRESS")
	_ = viper.BindEnv("TWILIO_ACCOUNT_SID")
	_ = viper.BindEnv("TWILIO_AUTH_TOKEN")
	_ = viper.BindEnv("TWILIO_WHATSAPP_NUMBER")
	_ = viper.BindEnv("ADMIN_API_KEY")
	_ = viper.BindEnv("PAYMENT_TIMEOUT_MINUTES")
	_ = viper.BindEnv("SESSION_MAX_AGE_MINUTES")
	_ = viper.BindEnv("FULFILLMENT_RETENTION_HOURS")
	_ = viper.BindEnv("POLL_MAX_ATTEMPTS")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("PAYOUT_MAX_ATTEMPTS")
	_ = viper.BindEnv("PAYOUT_RETRY_DELAY_SECONDS")
	_ = viper.BindEnv("NOTIFY_DELAY_SECONDS")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("CLEANUP_SCHEDULE")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_REQUESTS")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.FlutterwaveSecretKey = strings.TrimSpace(config.FlutterwaveSecretKey)
	config.FlutterwaveSecretHash = strings.TrimSpace(config.FlutterwaveSecretHash)
	config.AdminAPIKey = strings.TrimSpace(config.AdminAPIKey)
	if config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix); config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "afribridge:rate_limit"
	}

	if config.PaymentTimeoutMinutes <= 0 {
		config.PaymentTimeoutMinutes = 30
	}
	if config.SessionMaxAgeMinutes <= 0 {
		config.SessionMaxAgeMinutes = 60
	}
	if config.FulfillmentRetentionHrs <= 0 {
		config.FulfillmentRetentionHrs = 24
	}
	if config.PollMaxAttempts <= 0 {
		config.PollMaxAttempts = 10
	}
	if config.PollIntervalSeconds <= 0 {
		config.PollIntervalSeconds = 3
	}
	if config.PayoutMaxAttempts <= 0 {
		config.PayoutMaxAttempts = 3
	}
	if config.PayoutRetryDelaySeconds <= 0 {
		config.PayoutRetryDelaySeconds = 5
	}
	if config.NotifyDelaySeconds <= 0 {
		config.NotifyDelaySeconds = 30
	}
	if strings.TrimSpace(config.SweepSchedule) == "" {
		config.SweepSchedule = "*/5 * * * *"
	}
	if strings.TrimSpace(config.CleanupSchedule) == "" {
		config.CleanupSchedule = "0 0 * * *"
	}
	if config.WebhookRateLimitRequests <= 0 {
		config.WebhookRateLimitRequests = 100
	}
	if config.WebhookRateLimitMinutes <= 0 {
		config.WebhookRateLimitMinutes = 15
	}

	return
}
