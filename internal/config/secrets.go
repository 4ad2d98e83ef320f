package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// API key names recognized by the secrets facade. Analysis tools pick a
// key by category: fundamental/valuation use the financial-data key,
// technical/sentiment use the news/price key.
const (
	KeyFinancialData = "financial_data_api_key"
	KeyNewsData      = "news_data_api_key"
	KeyOpenAI        = "openai_api_key"
	KeyAnthropic     = "anthropic_api_key"
	KeyDeepSeek      = "deepseek_api_key"
	KeyGroq          = "groq_api_key"
)

// envNames maps key names to their environment variable fallbacks
var envNames = map[string]string{
	KeyFinancialData: "FINANCIAL_DATASETS_API_KEY",
	KeyNewsData:      "NEWS_DATA_API_KEY",
	KeyOpenAI:        "OPENAI_API_KEY",
	KeyAnthropic:     "ANTHROPIC_API_KEY",
	KeyDeepSeek:      "DEEPSEEK_API_KEY",
	KeyGroq:          "GROQ_API_KEY",
}

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string // KV v2 mount, e.g. "secret"
	SecretPath string // path under the mount, e.g. "quantdesk"
}

// Secrets resolves API keys, preferring Vault and falling back to
// environment variables. The core treats keys as opaque strings.
type Secrets struct {
	client *vault.Client
	cfg    VaultConfig
	cached map[string]string
}

// NewSecrets creates the secrets facade. When Vault is disabled or
// unreachable, keys come from environment variables only.
func NewSecrets(cfg VaultConfig) *Secrets {
	s := &Secrets{cfg: cfg, cached: make(map[string]string)}

	if !cfg.Enabled {
		log.Debug().Msg("Vault disabled, resolving secrets from environment")
		return s
	}

	vaultCfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create Vault client, falling back to environment")
		return s
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		log.Warn().Msg("VAULT_TOKEN not set, falling back to environment")
		return s
	}
	client.SetToken(token)
	s.client = client

	log.Info().Str("address", vaultCfg.Address).Msg("Vault client initialized")
	return s
}

// Get resolves a named API key. Vault lookups are cached for the
// process lifetime; a missing key resolves to the empty string.
func (s *Secrets) Get(ctx context.Context, name string) string {
	if v, ok := s.cached[name]; ok {
		return v
	}

	if s.client != nil {
		if v, err := s.readVault(ctx, name); err == nil && v != "" {
			s.cached[name] = v
			return v
		} else if err != nil {
			log.Debug().Err(err).Str("key", name).Msg("Vault lookup failed, trying environment")
		}
	}

	env, ok := envNames[name]
	if !ok {
		env = name
	}
	v := os.Getenv(env)
	s.cached[name] = v
	return v
}

// APIKeys returns the per-category analysis keys used by tool execution
func (s *Secrets) APIKeys(ctx context.Context) map[string]string {
	return map[string]string{
		KeyFinancialData: s.Get(ctx, KeyFinancialData),
		KeyNewsData:      s.Get(ctx, KeyNewsData),
	}
}

func (s *Secrets) readVault(ctx context.Context, name string) (string, error) {
	mount := s.cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	path := s.cfg.SecretPath
	if path == "" {
		path = "quantdesk"
	}
	fullPath := fmt.Sprintf("%s/data/%s", mount, path)

	secret, err := s.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return "", fmt.Errorf("secret not found at path %s", fullPath)
	}

	// KV v2 nests the payload under "data"
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[name].(string)
	if !ok {
		return "", fmt.Errorf("secret key %q not found at path %s", name, fullPath)
	}
	return value, nil
}
