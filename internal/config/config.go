package config

import (
	"os"
	"strings"

	authConfig "github.com/recargaspacuba/topup/internal/auth/config"
	handlerConfig "github.com/recargaspacuba/topup/internal/handler/config"
	loggerConfig "github.com/recargaspacuba/topup/internal/logger/config"
	storeConfig "github.com/recargaspacuba/topup/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Auth    authConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
}

func GetConfig() Config {
	relaxed := os.Getenv("RELAXED_AUTH") == "true"

	return Config{
		Handler: handlerConfig.Config{
			ServerAddr:     envOr("RUN_ADDRESS", ":8080"),
			AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
			AttestAddr:     os.Getenv("ATTEST_ADDRESS"),
			Relaxed:        relaxed,
		},
		Auth: authConfig.Config{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Relaxed:   relaxed,
		},
		Store: storeConfig.Config{
			DBDsn: os.Getenv("DATABASE_URI"),
		},
		Logger: loggerConfig.Config{
			LogLevel: envOr("LOG_LEVEL", "info"),
		},
	}
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
