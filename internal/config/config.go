package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr  string `mapstructure:"SERVER_ADDR"`
	Environment string `mapstructure:"APP_ENV"`

	DataDir      string `mapstructure:"DATA_DIR"`
	StoreDriver  string `mapstructure:"STORE_DRIVER"` // file, sqlite
	DatabasePath string `mapstructure:"DB_PATH"`
	TemplatesDir string `mapstructure:"TEMPLATES_DIR"`
	UploadsDir   string `mapstructure:"UPLOADS_DIR"`
	PluginsDir   string `mapstructure:"PLUGINS_DIR"`
	StagingDir   string `mapstructure:"STAGING_DIR"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"` // console, json
	LogFile   string `mapstructure:"LOG_FILE"`

	DeployTimeout     time.Duration `mapstructure:"DEPLOY_TIMEOUT"`
	ValidationTimeout time.Duration `mapstructure:"VALIDATION_TIMEOUT"`
	RemoteRoot        string        `mapstructure:"REMOTE_ROOT"`
	FTPPort           int           `mapstructure:"FTP_PORT"`
	FTPTLS            bool          `mapstructure:"FTP_TLS"`

	WordPressURL       string        `mapstructure:"WORDPRESS_URL"`
	ThemeAPIURL        string        `mapstructure:"THEME_API_URL"`
	ThemeDownloadURL   string        `mapstructure:"THEME_DOWNLOAD_URL"`
	MigrationPluginURL string        `mapstructure:"MIGRATION_PLUGIN_URL"`
	CatalogTTL         time.Duration `mapstructure:"CATALOG_TTL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	SecretKey     string `mapstructure:"SECRET_KEY"`

	MaxUploadMB        int  `mapstructure:"MAX_UPLOAD_MB"`
	AutoTriggerInstall bool `mapstructure:"AUTO_TRIGGER_INSTALL"`

	SweepSchedule string        `mapstructure:"SWEEP_SCHEDULE"`
	StagingTTL    time.Duration `mapstructure:"STAGING_TTL"`

	// Contact details baked into the templates, replaced on the new site.
	PlaceholderEmail   string `mapstructure:"PLACEHOLDER_EMAIL"`
	PlaceholderPhone   string `mapstructure:"PLACEHOLDER_PHONE"`
	PlaceholderAddress string `mapstructure:"PLACEHOLDER_ADDRESS"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_ADDR", ":3000")
	viper.SetDefault("APP_ENV", "development")

	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("STORE_DRIVER", "file")
	viper.SetDefault("DB_PATH", "data/wplaunch.db")
	viper.SetDefault("TEMPLATES_DIR", "data/templates")
	viper.SetDefault("UPLOADS_DIR", "data/uploads")
	viper.SetDefault("PLUGINS_DIR", "data/plugins")
	viper.SetDefault("STAGING_DIR", "data/staging")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "console")
	viper.SetDefault("LOG_FILE", "")

	viper.SetDefault("DEPLOY_TIMEOUT", "30m")
	viper.SetDefault("VALIDATION_TIMEOUT", "10s")
	viper.SetDefault("REMOTE_ROOT", "public_html")
	viper.SetDefault("FTP_PORT", 21)
	viper.SetDefault("FTP_TLS", false)

	viper.SetDefault("WORDPRESS_URL", "https://wordpress.org/latest.zip")
	viper.SetDefault("THEME_API_URL", "https://api.wordpress.org/themes/info/1.2/?action=query_themes&request[browse]=popular&request[per_page]=24")
	viper.SetDefault("THEME_DOWNLOAD_URL", "https://downloads.wordpress.org/theme/%s.latest-stable.zip")
	viper.SetDefault("MIGRATION_PLUGIN_URL", "https://downloads.wordpress.org/plugin/all-in-one-wp-migration.latest-stable.zip")
	viper.SetDefault("CATALOG_TTL", "15m")

	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("SECRET_KEY", "")

	viper.SetDefault("MAX_UPLOAD_MB", 512)
	viper.SetDefault("AUTO_TRIGGER_INSTALL", false)

	viper.SetDefault("SWEEP_SCHEDULE", "@every 1h")
	viper.SetDefault("STAGING_TTL", "6h")

	viper.SetDefault("PLACEHOLDER_EMAIL", "info@example.com")
	viper.SetDefault("PLACEHOLDER_PHONE", "+1 000 000 0000")
	viper.SetDefault("PLACEHOLDER_ADDRESS", "123 Example Street")

	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	viper.SetEnvPrefix("WPLAUNCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
