package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultUpstreamTimeout  = 10 * time.Second
	defaultCurrency         = "EGP"
	defaultPageSize         = 20
	defaultSchema           = "auto"
	defaultStorageDriver    = "memory"
	defaultKVCollection     = "storefront_kv"
	defaultCookieName       = "storefront_session"
	defaultSessionLifetime  = 30 * 24 * time.Hour
	defaultSessionIdleTTL   = 2 * time.Hour
	defaultSweepInterval    = 5 * time.Minute
	defaultSecretsFallback  = ".secrets.local"
	maxCatalogPageSize      = 100
	minSessionHashKeyLength = 32
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server  ServerConfig
	Catalog CatalogConfig
	Backend BackendConfig
	Storage StorageConfig
	Session SessionConfig
	Secrets SecretsConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CatalogConfig points at the nopCommerce catalog API.
type CatalogConfig struct {
	BaseURL         string
	Schema          string
	DefaultCurrency string
	PageSize        int
	Timeout         time.Duration
	AliasesFile     string
}

// BackendConfig points at the custom users/orders/cart REST API.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// StorageConfig selects the key/value store that replaces browser local storage.
type StorageConfig struct {
	Driver                string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	FirestoreProjectID    string
	FirestoreEmulatorHost string
	FirestoreCollection   string
}

// SessionConfig controls the signed session cookie and the per-session cart registry.
type SessionConfig struct {
	CookieName    string
	HashKey       string
	BlockKey      string
	Secure        bool
	Lifetime      time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// SecretsConfig configures Secret Manager lookups for secret:// references.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// EnvironmentValues returns the effective environment (dotenv < OS env < explicit map) so callers can
// build dependencies, such as the secret fetcher, before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load assembles the storefront configuration from defaults, .env overrides, environment variables and
// secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Catalog: CatalogConfig{
			BaseURL:         stringWithDefault(lookup, "STOREFRONT_CATALOG_BASE_URL", ""),
			Schema:          strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CATALOG_SCHEMA", defaultSchema)),
			DefaultCurrency: strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CATALOG_DEFAULT_CURRENCY", defaultCurrency)),
			PageSize:        intWithDefault(lookup, "STOREFRONT_CATALOG_PAGE_SIZE", defaultPageSize),
			Timeout:         durationWithDefault(lookup, "STOREFRONT_CATALOG_TIMEOUT", defaultUpstreamTimeout),
			AliasesFile:     stringWithDefault(lookup, "STOREFRONT_CATALOG_ALIASES_FILE", ""),
		},
		Backend: BackendConfig{
			BaseURL: stringWithDefault(lookup, "STOREFRONT_BACKEND_BASE_URL", ""),
			Timeout: durationWithDefault(lookup, "STOREFRONT_BACKEND_TIMEOUT", defaultUpstreamTimeout),
		},
		Storage: StorageConfig{
			Driver:                strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STORAGE_DRIVER", defaultStorageDriver)),
			RedisAddr:             stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			RedisPassword:         stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			RedisDB:               intWithDefault(lookup, "STOREFRONT_REDIS_DB", 0),
			FirestoreProjectID:    stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT_ID", ""),
			FirestoreEmulatorHost: stringWithDefault(lookup, "STOREFRONT_FIRESTORE_EMULATOR_HOST", ""),
			FirestoreCollection:   stringWithDefault(lookup, "STOREFRONT_FIRESTORE_COLLECTION", defaultKVCollection),
		},
		Session: SessionConfig{
			CookieName:    stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE_NAME", defaultCookieName),
			HashKey:       stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:      stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			Secure:        boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", true),
			Lifetime:      durationWithDefault(lookup, "STOREFRONT_SESSION_LIFETIME", defaultSessionLifetime),
			IdleTTL:       durationWithDefault(lookup, "STOREFRONT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			SweepInterval: durationWithDefault(lookup, "STOREFRONT_SESSION_SWEEP_INTERVAL", defaultSweepInterval),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "STOREFRONT_SECRETS_FALLBACK_FILE", defaultSecretsFallback),
		},
	}

	if cfg.Storage.FirestoreProjectID == "" {
		cfg.Storage.FirestoreProjectID = cfg.Secrets.ProjectID
	}

	secretFields := []*string{
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
		&cfg.Storage.RedisPassword,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Catalog.BaseURL == "" {
		invalid = append(invalid, "Catalog.BaseURL")
	}
	switch cfg.Catalog.Schema {
	case "auto", "snake", "camel":
	default:
		invalid = append(invalid, "Catalog.Schema")
	}
	if cfg.Catalog.PageSize <= 0 || cfg.Catalog.PageSize > maxCatalogPageSize {
		invalid = append(invalid, "Catalog.PageSize")
	}
	if cfg.Backend.BaseURL == "" {
		invalid = append(invalid, "Backend.BaseURL")
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "redis":
		if cfg.Storage.RedisAddr == "" {
			invalid = append(invalid, "Storage.RedisAddr")
		}
	case "firestore":
		if cfg.Storage.FirestoreProjectID == "" {
			invalid = append(invalid, "Storage.FirestoreProjectID")
		}
	default:
		invalid = append(invalid, "Storage.Driver")
	}
	if len(cfg.Session.HashKey) < minSessionHashKeyLength {
		invalid = append(invalid, "Session.HashKey")
	}
	if n := len(cfg.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		invalid = append(invalid, "Session.BlockKey")
	}
	if cfg.Session.IdleTTL <= 0 {
		invalid = append(invalid, "Session.IdleTTL")
	}
	if cfg.Session.SweepInterval <= 0 {
		invalid = append(invalid, "Session.SweepInterval")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
