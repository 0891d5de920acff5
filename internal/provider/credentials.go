package provider

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pushpaanand/teleconsult/internal/config"
)

// Credentials are the two provider configuration values, as configured
type Credentials struct {
	AppID        string
	ServerSecret string
}

// CredentialsFromConfig extracts the credentials from the provider configuration
func CredentialsFromConfig(cfg config.ProviderConfig) Credentials {
	return Credentials{AppID: cfg.AppID, ServerSecret: cfg.ServerSecret}
}

// Validate checks both values and returns the numeric application id.
// Missing values and malformed values fail with different kinds.
func (c Credentials) Validate() (uint32, error) {
	appID := strings.TrimSpace(c.AppID)
	if appID == "" || c.ServerSecret == "" {
		return 0, newError(KindCredentialsMissing, "validate", nil)
	}

	id, err := strconv.ParseUint(appID, 10, 32)
	if err != nil || id == 0 {
		return 0, errorf(KindCredentialsMalformed, "validate", "application id %q is not a positive 32-bit number", appID)
	}
	if strings.TrimSpace(c.ServerSecret) == "" || strings.IndexFunc(c.ServerSecret, unicode.IsSpace) >= 0 {
		return 0, errorf(KindCredentialsMalformed, "validate", "server secret contains whitespace")
	}
	return uint32(id), nil
}
