package crypto

import (
	"fmt"
	"sync"

	"github.com/avolkov/arbengine/internal/domain"
)

// Provider resolves per-exchange credentials, decrypting lazily and caching
// the result. It never logs secret material.
type Provider struct {
	mu      sync.Mutex
	sources map[string]SecretSource
	cache   map[string]domain.Credentials
}

// SecretSource names the key and the secret's resolution config for one
// exchange.
type SecretSource struct {
	Key    string
	Secret SecretConfig
}

// NewProvider creates a provider over the given per-exchange sources.
func NewProvider(sources map[string]SecretSource) *Provider {
	return &Provider{
		sources: sources,
		cache:   make(map[string]domain.Credentials),
	}
}

// Credentials resolves and caches the credential pair for exchange.
func (p *Provider) Credentials(exchange string) (domain.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if creds, ok := p.cache[exchange]; ok {
		return creds, nil
	}
	src, ok := p.sources[exchange]
	if !ok {
		return domain.Credentials{}, fmt.Errorf("credentials for %s: %w", exchange, domain.ErrUnknownExchange)
	}
	secret, err := LoadSecret(src.Secret)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("resolving secret for %s: %w", exchange, err)
	}
	creds := domain.Credentials{Key: src.Key, Secret: secret}
	p.cache[exchange] = creds
	return creds, nil
}

var _ domain.CredentialProvider = (*Provider)(nil)
