package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Drivers soportados para el almacenamiento local de mensajes.
const (
	LocalStoreSQLite   = "sqlite"
	LocalStorePostgres = "postgres"
	LocalStoreMemory   = "memory"
)

// Config centraliza la configuración del cliente y del backend de desarrollo.
type Config struct {
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	APIToken   string `env:"API_TOKEN"`

	LocalStoreDriver string `env:"LOCAL_STORE_DRIVER" envDefault:"sqlite"`
	LocalStorePath   string `env:"LOCAL_STORE_PATH" envDefault:"luna-cache.db"`
	DatabaseURL      string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	CachePageSize    int           `env:"CACHE_PAGE_SIZE" envDefault:"20"`
	CacheDedupWindow time.Duration `env:"CACHE_DEDUP_WINDOW" envDefault:"30s"`
	SessionCacheTTL  time.Duration `env:"SESSION_CACHE_TTL" envDefault:"10m"`
	SnapshotPath     string        `env:"SNAPSHOT_PATH"`

	HTTPPort            string `env:"HTTP_PORT" envDefault:"8080"`
	JWTSecret           string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"60"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
