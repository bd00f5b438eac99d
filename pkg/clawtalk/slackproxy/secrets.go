package slackproxy

import (
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "clawtalk-gateway"

// Secret pairs a signing secret with the account id it is bound to.
type Secret struct {
	AccountID string
	Value     string
}

// SecretResolver assembles the ordered, deduplicated candidate secret list
// per spec.md §4.4: per-account secrets, then the base config secret bound
// to "default", then env fallbacks bound to "default", then (enrichment,
// SPEC_FULL.md §B) the OS keyring as the lowest-priority tier.
type SecretResolver struct {
	PerAccount map[string]string
	BaseSecret string
	EnvNames   []string
}

// DefaultEnvNames is spec.md §6's recognized env-var fallback order.
var DefaultEnvNames = []string{"GATEWAY_SLACK_SIGNING_SECRET", "SLACK_SIGNING_SECRET"}

// Candidates returns the ordered, value-deduplicated secret set.
func (r SecretResolver) Candidates() []Secret {
	var out []Secret
	seen := make(map[string]bool)

	add := func(accountID, value string) {
		value = strings.TrimSpace(value)
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		out = append(out, Secret{AccountID: accountID, Value: value})
	}

	for accountID, secret := range r.PerAccount {
		add(accountID, secret)
	}
	add("default", r.BaseSecret)
	for _, name := range r.EnvNames {
		add("default", os.Getenv(name))
	}
	if v, err := keyring.Get(keyringService, "slack_signing_secret"); err == nil {
		add("default", v)
	}

	return out
}
