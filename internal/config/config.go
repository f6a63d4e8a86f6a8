/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, then normalizes the values the settlement pipeline depends on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPlatformFeePercent   = 10
	defaultRateLimitPrefix      = "tickets:rate_limit"
	defaultEventsExchange       = "tickets.events"
	defaultReservationStaleMins = 15
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string   `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string   `mapstructure:"DATABASE_URL"`
	RunMigrations                bool     `mapstructure:"RUN_MIGRATIONS"`
	RedisURL                     string   `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string   `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	PurchaseRateLimitPerMinute   int      `mapstructure:"PURCHASE_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                  string   `mapstructure:"RABBITMQ_URL"`
	EventsExchange               string   `mapstructure:"EVENTS_EXCHANGE"`
	PayoutEventQueue             string   `mapstructure:"PAYOUT_EVENT_QUEUE"`
	PaymentGatewayBaseURL        string   `mapstructure:"PAYMENT_GATEWAY_BASE_URL"`
	PaymentGatewaySecretKey      string   `mapstructure:"PAYMENT_GATEWAY_SECRET_KEY"`
	PaymentGatewayTimeoutSeconds int      `mapstructure:"PAYMENT_GATEWAY_TIMEOUT_SECONDS"`
	AuthJWKSURL                  string   `mapstructure:"AUTH_JWKS_URL"`
	AuthJWTSecret                string   `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer                   string   `mapstructure:"AUTH_ISSUER"`
	CORSAllowedOrigins           []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	DefaultPlatformFeePercent    int      `mapstructure:"DEFAULT_PLATFORM_FEE_PERCENT"`
	AmountToleranceKobo          int64    `mapstructure:"AMOUNT_TOLERANCE_KOBO"`
	SettlementCurrency           string   `mapstructure:"SETTLEMENT_CURRENCY"`
	ReservationStaleMinutes      int      `mapstructure:"RESERVATION_STALE_MINUTES"`
	ReservationSweepSchedule     string   `mapstructure:"RESERVATION_SWEEP_SCHEDULE"`
	ReconciliationAlertSchedule  string   `mapstructure:"RECONCILIATION_ALERT_SCHEDULE"`
}

// GatewayTimeout returns the payment gateway HTTP timeout.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.PaymentGatewayTimeoutSeconds) * time.Second
}

// ReservationStaleAfter returns how long a processing reservation is honoured before it may be reclaimed.
func (c Config) ReservationStaleAfter() time.Duration {
	return time.Duration(c.ReservationStaleMinutes) * time.Minute
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("PURCHASE_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("PAYOUT_EVENT_QUEUE", "settlement_service.payout_updates")
	viper.SetDefault("PAYMENT_GATEWAY_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 30)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("DEFAULT_PLATFORM_FEE_PERCENT", defaultPlatformFeePercent)
	viper.SetDefault("AMOUNT_TOLERANCE_KOBO", 0)
	viper.SetDefault("SETTLEMENT_CURRENCY", "NGN")
	viper.SetDefault("RESERVATION_STALE_MINUTES", defaultReservationStaleMins)
	viper.SetDefault("RESERVATION_SWEEP_SCHEDULE", "@every 5m")
	viper.SetDefault("RECONCILIATION_ALERT_SCHEDULE", "@every 10m")

	// Bind environment variables explicitly so they appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("PURCHASE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PAYOUT_EVENT_QUEUE")
	_ = viper.BindEnv("PAYMENT_GATEWAY_BASE_URL")
	_ = viper.BindEnv("PAYMENT_GATEWAY_SECRET_KEY", "PAYMENT_GATEWAY_SECRET_KEY", "PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYMENT_GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("DEFAULT_PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("AMOUNT_TOLERANCE_KOBO")
	_ = viper.BindEnv("SETTLEMENT_CURRENCY")
	_ = viper.BindEnv("RESERVATION_STALE_MINUTES")
	_ = viper.BindEnv("RESERVATION_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RECONCILIATION_ALERT_SCHEDULE")

	// The .env file is optional; environment values win either way.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisRateLimitPrefix), ":")
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.PaymentGatewaySecretKey = strings.TrimSpace(config.PaymentGatewaySecretKey)
	config.SettlementCurrency = strings.ToUpper(strings.TrimSpace(config.SettlementCurrency))
	if config.SettlementCurrency == "" {
		config.SettlementCurrency = "NGN"
	}
	config.CORSAllowedOrigins = normalizeOrigins(config.CORSAllowedOrigins)

	if config.DefaultPlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%d", config.DefaultPlatformFeePercent)
		config.DefaultPlatformFeePercent = 0
	}
	if config.DefaultPlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%d", config.DefaultPlatformFeePercent)
		config.DefaultPlatformFeePercent = 100
	}
	if config.AmountToleranceKobo < 0 {
		log.Printf("level=warn component=config msg=\"negative amount tolerance configured; coercing to zero\" tolerance_kobo=%d", config.AmountToleranceKobo)
		config.AmountToleranceKobo = 0
	}

	if config.PurchaseRateLimitPerMinute < 0 {
		config.PurchaseRateLimitPerMinute = 0
	}
	if config.PaymentGatewayTimeoutSeconds <= 0 {
		config.PaymentGatewayTimeoutSeconds = 30
	}
	if config.ReservationStaleMinutes <= 0 {
		config.ReservationStaleMinutes = defaultReservationStaleMins
	}
	if strings.TrimSpace(config.ReservationSweepSchedule) == "" {
		config.ReservationSweepSchedule = "@every 5m"
	}
	if strings.TrimSpace(config.ReconciliationAlertSchedule) == "" {
		config.ReconciliationAlertSchedule = "@every 10m"
	}

	return
}

// normalizeOrigins accepts either a list or a single comma separated value.
func normalizeOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
