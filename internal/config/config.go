package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/plink-mcp/internal/keys"
	"github.com/alexjbarnes/plink-mcp/internal/store"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transports.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Config holds all environment-based configuration for plink-mcp.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8787"`
	Transport  string `env:"MCP_TRANSPORT" envDefault:"http"`

	// OAuth issuer and audience. Both default to the public deployment.
	Issuer   string `env:"MCP_OAUTH_ISSUER" envDefault:"https://mcp.p-link.io"`
	Audience string `env:"MCP_OAUTH_AUDIENCE" envDefault:"https://mcp.p-link.io"`

	// Signing key pair. Either both PEMs are set or neither is, in which
	// case EphemeralKeys must be true.
	PrivateKeyPEM string `env:"MCP_OAUTH_PRIVATE_KEY_PEM"`
	PublicKeyPEM  string `env:"MCP_OAUTH_PUBLIC_KEY_PEM"`
	EphemeralKeys bool   `env:"MCP_OAUTH_EPHEMERAL_KEYS" envDefault:"false"`

	// Bootstrap client seeded at startup when absent.
	ClientID    string `env:"MCP_OAUTH_CLIENT_ID" envDefault:"mcp-client"`
	RedirectURI string `env:"MCP_OAUTH_REDIRECT_URI" envDefault:"http://localhost:1234/callback"`

	// ClientsFile is an optional YAML file of static clients, reloaded on change.
	ClientsFile string `env:"MCP_OAUTH_CLIENTS_FILE"`

	RequireAuth bool `env:"MCP_REQUIRE_AUTH" envDefault:"false"`

	// P-Link backend
	APIBase        string        `env:"API_BASE" envDefault:"https://p-link.io"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`

	// Credential store
	StoreBackend   string `env:"STORE_BACKEND" envDefault:"memory"`
	RedisURL       string `env:"REDIS_URL" envDefault:"redis://127.0.0.1:6379"`
	RedisNamespace string `env:"REDIS_NAMESPACE" envDefault:"mcp:oauth"`
	StorePath      string `env:"STORE_PATH"`

	HomeURL string `env:"HOME_URL" envDefault:"https://p-link.io"`

	// Fallback API key for tools when a session carries no credential.
	APIKey    string `env:"APIKEY"`
	MCPAPIKey string `env:"MCP_APIKEY"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportHTTP, TransportStdio:
	default:
		return fmt.Errorf("MCP_TRANSPORT must be %q or %q, got %q", TransportHTTP, TransportStdio, c.Transport)
	}

	switch c.StoreBackend {
	case store.BackendMemory, store.BackendRedis, store.BackendBolt:
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, redis or bolt, got %q", c.StoreBackend)
	}

	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}

	// Stdio serves a single local caller and never issues tokens.
	if c.Transport == TransportStdio {
		return nil
	}

	hasPriv, hasPub := c.PrivateKeyPEM != "", c.PublicKeyPEM != ""
	if hasPriv != hasPub {
		return fmt.Errorf("MCP_OAUTH_PRIVATE_KEY_PEM and MCP_OAUTH_PUBLIC_KEY_PEM must be set together")
	}

	if !hasPriv && !c.EphemeralKeys {
		return fmt.Errorf("no signing keys: set MCP_OAUTH_PRIVATE_KEY_PEM and MCP_OAUTH_PUBLIC_KEY_PEM, or MCP_OAUTH_EPHEMERAL_KEYS=true for development")
	}

	if !hasPriv && c.IsProduction() {
		return fmt.Errorf("MCP_OAUTH_EPHEMERAL_KEYS is not allowed in production")
	}

	for name, raw := range map[string]string{
		"MCP_OAUTH_ISSUER":   c.Issuer,
		"MCP_OAUTH_AUDIENCE": c.Audience,
		"HOME_URL":           c.HomeURL,
	} {
		if !absoluteURL(raw) {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if c.ClientID == "" || !absoluteURL(c.RedirectURI) {
		return fmt.Errorf("MCP_OAUTH_CLIENT_ID and an absolute MCP_OAUTH_REDIRECT_URI are required")
	}

	return nil
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// FallbackAPIKey returns APIKEY, or MCP_APIKEY when APIKEY is unset.
func (c *Config) FallbackAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}

	return c.MCPAPIKey
}

// StoreOptions returns the credential store selection.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:  c.StoreBackend,
		RedisURL: c.RedisURL,
		Path:     c.StorePath,
	}
}

// Keys returns the signing key configuration.
func (c *Config) Keys() keys.Config {
	return keys.Config{
		PrivateKeyPEM:  c.PrivateKeyPEM,
		PublicKeyPEM:   c.PublicKeyPEM,
		AllowEphemeral: c.EphemeralKeys && !c.IsProduction(),
	}
}
