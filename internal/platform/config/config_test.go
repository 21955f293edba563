package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

func baseEnv() map[string]string {
	return map[string]string{
		"STOREFRONT_CATALOG_BASE_URL": "https://catalog.example.com/api",
		"STOREFRONT_BACKEND_BASE_URL": "https://backend.example.com",
		"STOREFRONT_SESSION_HASH_KEY": testHashKey,
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Catalog.DefaultCurrency != "EGP" {
		t.Errorf("expected EGP default currency, got %s", cfg.Catalog.DefaultCurrency)
	}
	if cfg.Catalog.Schema != "auto" {
		t.Errorf("expected auto schema, got %s", cfg.Catalog.Schema)
	}
	if cfg.Catalog.PageSize != defaultPageSize {
		t.Errorf("unexpected page size %d", cfg.Catalog.PageSize)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("expected memory storage, got %s", cfg.Storage.Driver)
	}
	if cfg.Session.CookieName != defaultCookieName {
		t.Errorf("unexpected cookie name %s", cfg.Session.CookieName)
	}
	if !cfg.Session.Secure {
		t.Errorf("expected secure cookies by default")
	}
	if cfg.Session.IdleTTL != defaultSessionIdleTTL {
		t.Errorf("unexpected idle ttl %s", cfg.Session.IdleTTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_SERVER_PORT"] = "9090"
	env["STOREFRONT_CATALOG_SCHEMA"] = "Camel"
	env["STOREFRONT_CATALOG_DEFAULT_CURRENCY"] = "usd"
	env["STOREFRONT_STORAGE_DRIVER"] = "redis"
	env["STOREFRONT_REDIS_ADDR"] = "localhost:6379"
	env["STOREFRONT_REDIS_PASSWORD"] = "sm://redis/password"
	env["STOREFRONT_SESSION_HASH_KEY"] = "secret://session/hash"
	env["STOREFRONT_SESSION_SECURE"] = "off"
	env["STOREFRONT_SESSION_SWEEP_INTERVAL"] = "30s"

	secrets := map[string]string{
		"secret://redis/password": "redis-pass",
		"secret://session/hash":   testHashKey + "\n",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.Catalog.Schema != "camel" {
		t.Errorf("expected lowercased schema, got %s", cfg.Catalog.Schema)
	}
	if cfg.Catalog.DefaultCurrency != "USD" {
		t.Errorf("expected uppercased currency, got %s", cfg.Catalog.DefaultCurrency)
	}
	if cfg.Storage.RedisPassword != "redis-pass" {
		t.Errorf("expected resolved redis password, got %q", cfg.Storage.RedisPassword)
	}
	if cfg.Session.HashKey != testHashKey {
		t.Errorf("expected resolved hash key, got %q", cfg.Session.HashKey)
	}
	if cfg.Session.Secure {
		t.Errorf("expected insecure cookies when overridden")
	}
	if cfg.Session.SweepInterval != 30*time.Second {
		t.Errorf("unexpected sweep interval %s", cfg.Session.SweepInterval)
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_SESSION_HASH_KEY"] = "secret://session/hash"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://session/hash" {
		t.Errorf("unexpected ref %s", secretErr.Ref)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_CATALOG_SCHEMA":    "xml",
		"STOREFRONT_STORAGE_DRIVER":    "firestore",
		"STOREFRONT_SESSION_HASH_KEY":  "short",
		"STOREFRONT_SESSION_BLOCK_KEY": "abc",
		"STOREFRONT_CATALOG_PAGE_SIZE": "500",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{
		"Catalog.BaseURL",
		"Catalog.Schema",
		"Catalog.PageSize",
		"Backend.BaseURL",
		"Storage.FirestoreProjectID",
		"Session.HashKey",
		"Session.BlockKey",
	}
	got := strings.Join(validation.Fields(), ",")
	if got != strings.Join(want, ",") {
		t.Fatalf("unexpected fields: %s", got)
	}
}

func TestLoadReadsDotEnvBelowExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := strings.Join([]string{
		"# local overrides",
		"STOREFRONT_CATALOG_BASE_URL=https://dotenv.example.com",
		"export STOREFRONT_BACKEND_BASE_URL=\"https://backend.dotenv\"",
		"STOREFRONT_SESSION_HASH_KEY=" + testHashKey,
		"STOREFRONT_SERVER_PORT=7070",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"STOREFRONT_SERVER_PORT": "6060"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Catalog.BaseURL != "https://dotenv.example.com" {
		t.Errorf("expected dotenv catalog url, got %s", cfg.Catalog.BaseURL)
	}
	if cfg.Backend.BaseURL != "https://backend.dotenv" {
		t.Errorf("expected quoted export value to be parsed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected explicit map to win over dotenv, got %s", cfg.Server.Port)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "missing.env")),
		WithoutSystemEnv(),
		WithEnvMap(baseEnv()),
	)
	if err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=dotenv\nB=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"B": "explicit"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["A"] != "dotenv" || values["B"] != "explicit" {
		t.Fatalf("unexpected values %v", values)
	}
}
