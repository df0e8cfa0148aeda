package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides mutates cfg in place using environment variables, the
// same precedence order the teacher's env_loader.go uses: env wins over
// file, file wins over built-in defaults.
func applyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("GATEWAY_ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AdminPort = n
		}
	}
	if v := os.Getenv("GATEWAY_DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("GATEWAY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	// MYSQL_* variables are accepted per spec §6 even though this rewrite's
	// relational backend uses Postgres/pgx; MYSQL_DATABASE doubles as the
	// Postgres DSN's database name component when POSTGRES_DSN is unset.
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	} else if host := os.Getenv("MYSQL_HOST"); host != "" {
		cfg.PostgresDSN = buildDSNFromMySQLEnv(host)
	}
	if v := os.Getenv("GATEWAY_ADMIN_TOKENS"); v != "" {
		cfg.AdminTokens = strings.Split(v, ",")
	}
	if v := os.Getenv("GATEWAY_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
}

func buildDSNFromMySQLEnv(host string) string {
	port := os.Getenv("MYSQL_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("MYSQL_USER")
	pass := os.Getenv("MYSQL_PASSWORD")
	db := os.Getenv("MYSQL_DATABASE")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + db + "?sslmode=disable"
}
