package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Configはアプリ全体の設定
type Config struct {
	Port string `envconfig:"PORT" default:"8080"` // サーバーポート

	// DATABASE_URL があれば POSTGRES_* より優先
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"storefront"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	JWTSecret      string        `envconfig:"JWT_SECRET" required:"true"` // JWT署名シークレット
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`

	GoEnv string `envconfig:"GO_ENV" default:"dev"` // dev/prod
	FEURL string `envconfig:"FE_URL" default:"http://localhost:3000"`

	// 画像まわり
	PublicDir      string        `envconfig:"PUBLIC_DIR" default:"./public"`
	UploadMaxBytes int64         `envconfig:"UPLOAD_MAX_BYTES" default:"5242880"`
	ThumbnailWidth int           `envconfig:"THUMBNAIL_WIDTH" default:"320"`
	OrphanGrace    time.Duration `envconfig:"ORPHAN_GRACE" default:"24h"`

	// 空ならメモリに保存
	RedisURL       string        `envconfig:"REDIS_URL"`
	CartSessionTTL time.Duration `envconfig:"CART_SESSION_TTL" default:"168h"`
}

// Loadは環境変数から読み込む
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}

	//必須チェック
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv != "dev" && cfg.GoEnv != "prod" {
		return Config{}, fmt.Errorf("GO_ENV must be dev or prod: %q", cfg.GoEnv)
	}
	if cfg.UploadMaxBytes <= 0 {
		return Config{}, fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if cfg.ThumbnailWidth < 0 {
		return Config{}, fmt.Errorf("THUMBNAIL_WIDTH must not be negative")
	}

	return cfg, nil
}

func (c Config) IsProd() bool {
	return c.GoEnv == "prod"
}

// DSN はgorm用の接続文字列
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

// Addr は echo の Start に渡す形
func (c Config) Addr() string {
	if c.Port != "" && c.Port[0] == ':' {
		return c.Port
	}
	return ":" + c.Port
}
