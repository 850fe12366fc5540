package config

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tradevault/tickstream/pkg/secrets"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Databento    DatabentoConfig    `mapstructure:"databento"`
	Tradovate    TradovateConfig    `mapstructure:"tradovate"`
	MarketStatus MarketStatusConfig `mapstructure:"market_status"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	GCP          GCPConfig          `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabentoConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Dataset     string `mapstructure:"dataset"`
	Schema      string `mapstructure:"schema"`
	SymbolSType string `mapstructure:"symbol_stype"`
	HistBaseURL string `mapstructure:"hist_base_url"`

	// Lookback window (hours) for the single-shot historical snapshot used
	// when the market is closed or the live feed drops.
	SnapshotLookbackHours int `mapstructure:"snapshot_lookback_hours"`
}

type TradovateConfig struct {
	AccessToken string `mapstructure:"access_token"`
	Flavor      string `mapstructure:"flavor"` // "demo" or "live"
}

type MarketStatusConfig struct {
	LookbackMinutes     int  `mapstructure:"lookback_minutes"`
	StaleAfterMinutes   int  `mapstructure:"stale_after_minutes"`
	QueryTimeoutSeconds int  `mapstructure:"query_timeout_seconds"`
	Permissive          bool `mapstructure:"permissive"`
}

type AuthConfig struct {
	// HS256 key for verifying inbound bearer tokens. Empty disables token
	// verification and the API falls back to the user_id query parameter.
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tickstream")
	}

	v.SetEnvPrefix("TICKSTREAM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)

	// Feed defaults
	v.SetDefault("databento.dataset", "GLBX.MDP3")
	v.SetDefault("databento.schema", "mbp-1")
	v.SetDefault("databento.symbol_stype", "raw_symbol")
	v.SetDefault("databento.hist_base_url", "https://hist.databento.com")
	v.SetDefault("databento.snapshot_lookback_hours", 24)

	// Brokerage defaults
	v.SetDefault("tradovate.flavor", "demo")

	// Market status policy defaults: strict staleness, fail-closed
	v.SetDefault("market_status.lookback_minutes", 60)
	v.SetDefault("market_status.stale_after_minutes", 15)
	v.SetDefault("market_status.query_timeout_seconds", 10)
	v.SetDefault("market_status.permissive", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.databento_api_key", secretNames.DatabentoAPIKey)
	v.SetDefault("gcp.secret_names.tradovate_access_token", secretNames.TradovateAccessToken)
	v.SetDefault("gcp.secret_names.jwt_signing_key", secretNames.JWTSigningKey)
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("DATABENTO_API_KEY"); apiKey != "" {
		config.Databento.APIKey = apiKey
	}
	if token := os.Getenv("TRADOVATE_ACCESS_TOKEN"); token != "" {
		config.Tradovate.AccessToken = token
	}
	if flavor := os.Getenv("TRADOVATE_FLAVOR"); flavor != "" {
		config.Tradovate.Flavor = flavor
	}
	if key := os.Getenv("JWT_SIGNING_KEY"); key != "" {
		config.Auth.JWTSigningKey = key
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if credsFile := os.Getenv("GCP_CREDENTIALS_FILE"); credsFile != "" {
		config.GCP.CredentialsFile = credsFile
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets that are not already set
	if config.Databento.APIKey == "" {
		config.Databento.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.DatabentoAPIKey, "")
	}
	if config.Tradovate.AccessToken == "" {
		config.Tradovate.AccessToken = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.TradovateAccessToken, "")
	}
	if config.Auth.JWTSigningKey == "" {
		config.Auth.JWTSigningKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.JWTSigningKey, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
