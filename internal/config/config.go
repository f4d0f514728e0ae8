// Package config loads engine configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
    "fmt"
    "os"
    "strconv"

    "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"databaseUrl"`
    RedisURL    string `yaml:"redisUrl"`

    // Merchant API rate limit (token bucket). Zero disables limiting.
    RateRPS   float64 `yaml:"rateRps"`
    RateBurst int     `yaml:"rateBurst"`

    WebhookMaxAttempts int `yaml:"webhookMaxAttempts"`

    Payment  PaymentConfig   `yaml:"payment"`
    Couriers []CourierConfig `yaml:"couriers"`
}

type PaymentConfig struct {
    KeyID         string `yaml:"keyId"`
    KeySecret     string `yaml:"keySecret"`
    WebhookSecret string `yaml:"webhookSecret"`
    BaseURL       string `yaml:"baseUrl"`
}

type CourierConfig struct {
    Name     string `yaml:"name"`
    Enabled  bool   `yaml:"enabled"`
    Priority int    `yaml:"priority"`
    BaseURL  string `yaml:"baseUrl"`
    APIKey   string `yaml:"apiKey"`
    // WebhookSecret signs tracking callbacks from this courier. A courier
    // without a secret has its webhooks rejected.
    WebhookSecret string `yaml:"webhookSecret"`
    // Pincodes lists serviceable pincode prefixes. Empty means serviceable
    // everywhere.
    Pincodes []string `yaml:"pincodes"`
}

// Load reads the YAML file at path (if non-empty) and applies env overrides.
func Load(path string) (Config, error) {
    cfg := Config{Port: "8080", RateBurst: 20, WebhookMaxAttempts: 10}
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err := yaml.Unmarshal(b, &cfg); err != nil {
            return cfg, fmt.Errorf("parse config: %w", err)
        }
    }
    cfg.applyEnv()
    return cfg, nil
}

func (c *Config) applyEnv() {
    if v := os.Getenv("PORT"); v != "" { c.Port = v }
    if v := os.Getenv("DATABASE_URL"); v != "" { c.DatabaseURL = v }
    if v := os.Getenv("REDIS_URL"); v != "" { c.RedisURL = v }
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil { c.RateRPS = f }
    }
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { c.RateBurst = n }
    }
    if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { c.WebhookMaxAttempts = n }
    }
    if v := os.Getenv("PAYMENT_KEY_ID"); v != "" { c.Payment.KeyID = v }
    if v := os.Getenv("PAYMENT_KEY_SECRET"); v != "" { c.Payment.KeySecret = v }
    if v := os.Getenv("PAYMENT_WEBHOOK_SECRET"); v != "" { c.Payment.WebhookSecret = v }
    if v := os.Getenv("PAYMENT_BASE_URL"); v != "" { c.Payment.BaseURL = v }
}

// Courier returns the config block for a provider name, if present.
func (c Config) Courier(name string) (CourierConfig, bool) {
    for _, cc := range c.Couriers {
        if cc.Name == name {
            return cc, true
        }
    }
    return CourierConfig{}, false
}
