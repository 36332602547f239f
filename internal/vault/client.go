// Package vault stores and retrieves provider credentials (an
// authenticated Binance key, for example) in HashiCorp Vault, degrading
// to an in-memory cache when Vault is disabled.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"strategy-monitor/config"
)

// ProviderCredentials is the credential shape stored per provider name.
type ProviderCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*ProviderCredentials
	cacheEnabled bool
}

func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*ProviderCredentials),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("vault: configuring TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vault: creating client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*ProviderCredentials),
		cacheEnabled: true,
	}, nil
}

// StoreProviderCredentials stores credentials for a named provider
// (e.g. "binance").
func (c *Client) StoreProviderCredentials(ctx context.Context, provider string, creds ProviderCredentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[provider] = &creds
		c.mu.Unlock()
		return nil
	}

	path := c.secretPath(provider)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"api_secret": creds.APISecret,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("vault: storing credentials for %s: %w", provider, err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[provider] = &creds
		c.mu.Unlock()
	}
	return nil
}

// GetProviderCredentials retrieves credentials for a named provider.
// When Vault is disabled and no credentials were ever stored, this
// returns (nil, nil): the provider is expected to fall back to
// unauthenticated public endpoints.
func (c *Client) GetProviderCredentials(ctx context.Context, provider string) (*ProviderCredentials, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[provider]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, nil
	}

	path := c.secretPath(provider)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault: reading credentials for %s: %w", provider, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault: invalid secret format for %s", provider)
	}

	creds := &ProviderCredentials{
		APIKey:    getString(data, "api_key"),
		APISecret: getString(data, "api_secret"),
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[provider] = creds
		c.mu.Unlock()
	}
	return creds, nil
}

func (c *Client) DeleteProviderCredentials(ctx context.Context, provider string) error {
	c.mu.Lock()
	delete(c.cache, provider)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	path := c.metadataPath(provider)
	if _, err := c.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("vault: deleting credentials for %s: %w", provider, err)
	}
	return nil
}

func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*ProviderCredentials)
	c.mu.Unlock()
}

func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault: health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault: sealed")
	}
	return nil
}

func (c *Client) secretPath(provider string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

func (c *Client) metadataPath(provider string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func NewMockClient() *Client {
	return &Client{
		config:       config.VaultConfig{Enabled: false},
		cache:        make(map[string]*ProviderCredentials),
		cacheEnabled: true,
	}
}
