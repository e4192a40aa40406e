package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/api"
	"prism-board/domain"
	"prism-board/storage"
)

const (
	driverTables = "aztables"
	driverSQLite = "sqlite"
)

type config struct {
	driver            string
	connStr           string
	tables            storage.Tables
	notificationQueue string
	sqlitePath        string

	redisConn      string
	updatesChannel string
	cacheTTL       time.Duration
	deduperTTL     time.Duration

	historyLimit   int
	port           string
	expiryInterval time.Duration
	draftDelay     time.Duration
}

// loadConfig reads the service configuration from the environment.
func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		driver:            strings.ToLower(getenv("STORAGE_DRIVER")),
		connStr:           getenv("STORAGE_CONNECTION_STRING"),
		notificationQueue: getenv("NOTIFICATIONS_QUEUE"),
		sqlitePath:        getenv("SQLITE_PATH"),
		redisConn:         getenv("REDIS_CONNECTION_STRING"),
		updatesChannel:    getenv("BOARD_UPDATES_CHANNEL"),
		port:              getenv("PORT"),
		tables:            tablesFromEnv(getenv),
	}
	if cfg.driver == "" {
		cfg.driver = driverTables
	}
	switch cfg.driver {
	case driverTables:
		if cfg.connStr == "" {
			return cfg, errors.New("missing STORAGE_CONNECTION_STRING")
		}
		for _, name := range cfg.tables.Names() {
			if name == "" {
				return cfg, errors.New("missing table config")
			}
		}
		if cfg.redisConn == "" {
			return cfg, errors.New("missing redis config")
		}
	case driverSQLite:
		if cfg.sqlitePath == "" {
			cfg.sqlitePath = "data/prism-board.db"
		}
	default:
		return cfg, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.driver)
	}
	if cfg.updatesChannel == "" {
		cfg.updatesChannel = "board-updates"
	}
	if cfg.port == "" {
		cfg.port = "8080"
	}

	var err error
	if cfg.cacheTTL, err = envDuration(getenv, "CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.deduperTTL, err = envDuration(getenv, "DEDUPER_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.expiryInterval, err = envDuration(getenv, "EXPIRY_CHECK_INTERVAL", domain.ExpiryCheckInterval); err != nil {
		return cfg, err
	}
	if cfg.draftDelay, err = envDuration(getenv, "DRAFT_SAVE_DELAY", domain.DraftSaveDelay); err != nil {
		return cfg, err
	}
	if cfg.historyLimit, err = envInt(getenv, "HISTORY_LIMIT", domain.DefaultHistoryLimit); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// authConfig picks the token verifier. A shared secret from
// LOCAL_AUTH_MODE=hs256 or AUTH0_TEST_MODE=1 wins; otherwise tokens are
// checked against the Auth0 tenant's JWKS, whose URL is returned for the
// caller to fetch.
func authConfig(getenv func(string) string) (api.AuthConfig, string, error) {
	var cfg api.AuthConfig
	var err error
	if cfg.KeyCacheTTL, err = envDuration(getenv, "JWKS_CACHE_TTL", 15*time.Minute); err != nil {
		return cfg, "", err
	}
	switch mode := strings.ToLower(strings.TrimSpace(getenv("LOCAL_AUTH_MODE"))); mode {
	case "":
	case "hs256":
		secret := getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			return cfg, "", errors.New("LOCAL_AUTH_MODE=hs256 requires LOCAL_AUTH_SHARED_SECRET")
		}
		cfg.SharedSecret = []byte(secret)
		return cfg, "", nil
	default:
		return cfg, "", fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", mode)
	}
	if getenv("AUTH0_TEST_MODE") == "1" {
		secret := getenv("TEST_JWT_SECRET")
		if secret == "" {
			return cfg, "", errors.New("AUTH0_TEST_MODE requires TEST_JWT_SECRET")
		}
		cfg.SharedSecret = []byte(secret)
		return cfg, "", nil
	}
	tenant, audience := getenv("AUTH0_DOMAIN"), getenv("AUTH0_AUDIENCE")
	if tenant == "" || audience == "" {
		return cfg, "", errors.New("missing Auth0 config")
	}
	cfg.Audience = audience
	cfg.Issuer = "https://" + tenant + "/"
	return cfg, cfg.Issuer + ".well-known/jwks.json", nil
}

func tablesFromEnv(getenv func(string) string) storage.Tables {
	return storage.Tables{
		Categories: getenv("CATEGORIES_TABLE"),
		Tasks:      getenv("TASKS_TABLE"),
		Priorities: getenv("PRIORITIES_TABLE"),
		History:    getenv("HISTORY_TABLE"),
		Users:      getenv("USERS_TABLE"),
	}
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" form.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
