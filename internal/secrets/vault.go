// Package secrets resolves credential values against HashiCorp Vault
// as an opt-in alternative to plain ${VAR} environment expansion,
// adapted from the teacher's secrets.VaultClient.
package secrets

import (
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// Resolver reads secret values from a Vault KV mount.
type Resolver struct {
	client *vault.Client
	mount  string
}

// NewResolver builds a Resolver pointed at a Vault server. token
// authenticates the client directly (AppRole/Kubernetes auth are out
// of scope here).
func NewResolver(address, token, mount string) (*Resolver, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = address

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.SetToken(token)

	if mount == "" {
		mount = "secret"
	}

	return &Resolver{client: client, mount: mount}, nil
}

// Resolve reads the secret at key (relative to the configured mount)
// and returns the string stored under its "value" field, following
// the KV v2 data/ path convention.
func (r *Resolver) Resolve(key string) (string, error) {
	path := fmt.Sprintf("%s/data/%s", r.mount, key)

	secret, err := r.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading vault secret %q: %w", key, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret not found: %s", key)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("vault secret %q has unexpected shape", key)
	}

	value, ok := data["value"].(string)
	if !ok {
		return "", fmt.Errorf("vault secret %q missing string value field", key)
	}
	return value, nil
}
