package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Tuning holds per-tenant delivery knobs. Zero values mean "use the process
// default".
type Tuning struct {
	WebhookTimeoutSeconds int    `yaml:"webhook_timeout_seconds"`
	EmailFromAddress      string `yaml:"email_from_address"`
}

// Overrides is the optional per-tenant tuning file, keyed by tenant id.
type Overrides struct {
	Tenants map[string]Tuning `yaml:"tenants"`
}

// LoadOverrides parses the tuning file at path. An empty path yields an empty
// override set; a missing or malformed file is an error so operators notice
// misconfigured overlays at startup rather than at delivery time.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return &Overrides{Tenants: map[string]Tuning{}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read overrides: %w", err)
	}
	var o Overrides
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("config: parse overrides: %w", err)
	}
	if o.Tenants == nil {
		o.Tenants = map[string]Tuning{}
	}
	return &o, nil
}

// ForTenant returns the tuning for a tenant, zero-valued when none is set.
func (o *Overrides) ForTenant(tenantID string) Tuning {
	if o == nil {
		return Tuning{}
	}
	return o.Tenants[tenantID]
}

// WebhookTimeout resolves the per-tenant delivery timeout against a default.
func (o *Overrides) WebhookTimeout(tenantID string, def time.Duration) time.Duration {
	t := o.ForTenant(tenantID)
	if t.WebhookTimeoutSeconds > 0 {
		return time.Duration(t.WebhookTimeoutSeconds) * time.Second
	}
	return def
}
