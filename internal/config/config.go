package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the collector needs, loaded from the
// environment with an optional .env file.
type Config struct {
	// HTTP API
	ServerPort string
	ServerHost string

	// Postgres
	DatabaseURL string

	// Wall connector local API
	TWCEnabled bool
	TWCHost    string
	TWCID      string

	// Fleet cloud API
	FleetEnabled bool
	FleetBaseURL string
	FleetToken   string
	EnergySiteID string

	// Spot price feed
	PriceFeedURL      string
	DeliveryRateCents float64

	// MQTT publishing
	MQTTEnabled  bool
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	// Poll intervals
	VitalsInterval        time.Duration
	LifetimeInterval      time.Duration
	VersionInterval       time.Duration
	WifiInterval          time.Duration
	PriceInterval         time.Duration
	VehicleInterval       time.Duration
	FleetTWCInterval      time.Duration
	ChargeHistoryInterval time.Duration

	// Session tracking
	MinSessionEnergyKWh float64
	MinSessionDuration  time.Duration
	CorrelationWindow   time.Duration

	// Smart charging
	SmartChargingEnabled bool
	SmartChargingDryRun  bool
	PriceLookbackDays    int
	StopPercentile       int
	ResumePercentile     int
	MinActionInterval    time.Duration
	StatsCacheTTL        time.Duration

	LogLevel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		TWCEnabled: getEnvBool("TWC_ENABLED", true),
		TWCHost:    getEnv("TWC_HOST", ""),
		TWCID:      getEnv("TWC_ID", "twc"),

		FleetEnabled: getEnvBool("FLEET_ENABLED", false),
		FleetBaseURL: getEnv("FLEET_BASE_URL", "https://api.tessie.com"),
		FleetToken:   getEnv("FLEET_TOKEN", ""),
		EnergySiteID: getEnv("ENERGY_SITE_ID", ""),

		PriceFeedURL:      getEnv("PRICE_FEED_URL", "https://hourlypricing.comed.com/api"),
		DeliveryRateCents: getEnvFloat("DELIVERY_RATE_CENTS", 7.5),

		MQTTEnabled:  getEnvBool("MQTT_ENABLED", false),
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "chargewatch"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTTopic:    getEnv("MQTT_TOPIC", "chargewatch"),

		VitalsInterval:        getEnvDuration("VITALS_INTERVAL", 30*time.Second),
		LifetimeInterval:      getEnvDuration("LIFETIME_INTERVAL", 5*time.Minute),
		VersionInterval:       getEnvDuration("VERSION_INTERVAL", 5*time.Minute),
		WifiInterval:          getEnvDuration("WIFI_INTERVAL", 5*time.Minute),
		PriceInterval:         getEnvDuration("PRICE_INTERVAL", 5*time.Minute),
		VehicleInterval:       getEnvDuration("VEHICLE_INTERVAL", time.Minute),
		FleetTWCInterval:      getEnvDuration("FLEET_TWC_INTERVAL", 30*time.Second),
		ChargeHistoryInterval: getEnvDuration("CHARGE_HISTORY_INTERVAL", 15*time.Minute),

		MinSessionEnergyKWh: getEnvFloat("MIN_SESSION_ENERGY_KWH", 0.1),
		MinSessionDuration:  getEnvDuration("MIN_SESSION_DURATION", time.Minute),
		CorrelationWindow:   getEnvDuration("CORRELATION_WINDOW", 5*time.Minute),

		SmartChargingEnabled: getEnvBool("SMART_CHARGING_ENABLED", false),
		SmartChargingDryRun:  getEnvBool("SMART_CHARGING_DRY_RUN", true),
		PriceLookbackDays:    getEnvInt("PRICE_LOOKBACK_DAYS", 30),
		StopPercentile:       getEnvInt("STOP_PERCENTILE", 90),
		ResumePercentile:     getEnvInt("RESUME_PERCENTILE", 75),
		MinActionInterval:    getEnvDuration("MIN_ACTION_INTERVAL", 10*time.Minute),
		StatsCacheTTL:        getEnvDuration("STATS_CACHE_TTL", 6*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TWCEnabled && cfg.TWCHost == "" {
		return nil, fmt.Errorf("TWC_HOST is required when TWC_ENABLED is set")
	}
	if cfg.FleetEnabled && cfg.FleetToken == "" {
		return nil, fmt.Errorf("FLEET_TOKEN is required when FLEET_ENABLED is set")
	}
	if cfg.SmartChargingEnabled && !cfg.FleetEnabled {
		return nil, fmt.Errorf("SMART_CHARGING_ENABLED requires FLEET_ENABLED")
	}
	if cfg.ResumePercentile >= cfg.StopPercentile {
		return nil, fmt.Errorf("RESUME_PERCENTILE must be below STOP_PERCENTILE")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
