package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr           = ":8080"
	defaultMetricsAddr        = ":9090"
	defaultCredentialBackend  = BackendPostgres
	defaultPendingAuthBackend = PendingBackendMemory
	defaultPendingAuthTTL     = 10 * time.Minute
	defaultProviderTimeout    = 20 * time.Second
	defaultRefreshTimeout     = 15 * time.Second
	defaultProviderRateLimit  = 10
	defaultSQLitePath         = "connector-hub.db"
	defaultVaultKVMount       = "secret"
	defaultVaultKVPrefix      = "connector-hub/credentials"
	defaultPlaidEnv           = "sandbox"

	minStateSecretLen = 32
)

// Credential storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendVault    = "vault"
	BackendMemory   = "memory"
)

// Pending authorization backends.
const (
	PendingBackendMemory = "memory"
	PendingBackendRedis  = "redis"
)

type Config struct {
	DatabaseURL   string
	HTTPAddr      string
	MetricsAddr   string
	PublicBaseURL string
	DevMode       bool

	CredentialBackend string
	SQLitePath        string

	VaultAddr            string
	VaultToken           string
	VaultNamespace       string
	VaultKVMount         string
	VaultKVPrefix        string
	VaultAppRoleRoleID   string
	VaultAppRoleSecretID string

	PendingAuthBackend string
	RedisURL           string
	PendingAuthTTL     time.Duration

	ProviderTimeout   time.Duration
	RefreshTimeout    time.Duration
	ProviderRateLimit int

	StateSecret        string
	APIKeyHashes       []string
	CallbackSuccessURL string
	CallbackErrorURL   string

	GoogleClientID     string
	GoogleClientSecret string
	PlaidClientID      string
	PlaidSecret        string
	PlaidEnv           string
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadOptionalDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		HTTPAddr:      getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:   getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(getenvDefault("PUBLIC_BASE_URL", "http://localhost:8080")), "/"),
		DevMode:       getenvBoolDefault("DEV_MODE", false),

		CredentialBackend: strings.ToLower(strings.TrimSpace(getenvDefault("CREDENTIAL_BACKEND", defaultCredentialBackend))),
		SQLitePath:        getenvDefault("SQLITE_PATH", defaultSQLitePath),

		VaultAddr:            strings.TrimSpace(os.Getenv("VAULT_ADDR")),
		VaultToken:           strings.TrimSpace(os.Getenv("VAULT_TOKEN")),
		VaultNamespace:       strings.TrimSpace(os.Getenv("VAULT_NAMESPACE")),
		VaultKVMount:         getenvDefault("VAULT_KV_MOUNT", defaultVaultKVMount),
		VaultKVPrefix:        getenvDefault("VAULT_KV_PREFIX", defaultVaultKVPrefix),
		VaultAppRoleRoleID:   strings.TrimSpace(os.Getenv("VAULT_APPROLE_ROLE_ID")),
		VaultAppRoleSecretID: strings.TrimSpace(os.Getenv("VAULT_APPROLE_SECRET_ID")),

		PendingAuthBackend: strings.ToLower(strings.TrimSpace(getenvDefault("PENDING_AUTH_BACKEND", defaultPendingAuthBackend))),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		PendingAuthTTL:     getenvDurationDefault("PENDING_AUTH_TTL", defaultPendingAuthTTL),

		ProviderTimeout:   getenvDurationDefault("PROVIDER_TIMEOUT", defaultProviderTimeout),
		RefreshTimeout:    getenvDurationDefault("REFRESH_TIMEOUT", defaultRefreshTimeout),
		ProviderRateLimit: getenvIntDefault("PROVIDER_RATE_LIMIT", defaultProviderRateLimit),

		StateSecret:        os.Getenv("STATE_SECRET"),
		APIKeyHashes:       splitList(os.Getenv("API_KEY_HASHES")),
		CallbackSuccessURL: getenvDefault("CALLBACK_SUCCESS_URL", "/connected"),
		CallbackErrorURL:   getenvDefault("CALLBACK_ERROR_URL", "/connect-error"),

		GoogleClientID:     strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
		PlaidClientID:      strings.TrimSpace(os.Getenv("PLAID_CLIENT_ID")),
		PlaidSecret:        strings.TrimSpace(os.Getenv("PLAID_SECRET")),
		PlaidEnv:           strings.ToLower(strings.TrimSpace(getenvDefault("PLAID_ENV", defaultPlaidEnv))),
	}

	if opts.RequireDatabaseURL && cfg.CredentialBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

// Validate checks the settings the serve path depends on.
func (c Config) Validate() error {
	var errs []error

	switch c.CredentialBackend {
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres credential backend"))
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite credential backend"))
		}
	case BackendVault:
		if c.VaultAddr == "" {
			errs = append(errs, errors.New("VAULT_ADDR is required for the vault credential backend"))
		}
		if c.VaultToken == "" && (c.VaultAppRoleRoleID == "" || c.VaultAppRoleSecretID == "") {
			errs = append(errs, errors.New("VAULT_TOKEN or VAULT_APPROLE_ROLE_ID/VAULT_APPROLE_SECRET_ID is required"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("CREDENTIAL_BACKEND must be one of: %s, %s, %s, %s", BackendPostgres, BackendSQLite, BackendVault, BackendMemory))
	}

	switch c.PendingAuthBackend {
	case PendingBackendMemory:
	case PendingBackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis pending authorization backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("PENDING_AUTH_BACKEND must be one of: %s, %s", PendingBackendMemory, PendingBackendRedis))
	}

	if !c.DevMode && len(c.APIKeyHashes) == 0 {
		errs = append(errs, errors.New("API_KEY_HASHES is required outside dev mode"))
	}

	if !c.DevMode && len(c.StateSecret) < minStateSecretLen {
		errs = append(errs, fmt.Errorf("STATE_SECRET must be at least %d bytes", minStateSecretLen))
	}

	return errors.Join(errs...)
}

// CallbackURL is the redirect URI registered with OAuth providers.
func (c Config) CallbackURL() string {
	return c.PublicBaseURL + "/connectors/callback"
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch v {
	case "1":
		return true
	case "0":
		return false
	default:
		return def
	}
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
