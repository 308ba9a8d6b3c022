package opnsense

import (
	"strings"

	"opnsensectl/internal/fault"
)

// Environment variables holding the credential set.
const (
	EnvURL       = "OPNSENSE_URL"
	EnvAPIKey    = "OPNSENSE_API_KEY"
	EnvAPISecret = "OPNSENSE_API_SECRET"
)

// Credentials identify one appliance and the API key pair used against it.
type Credentials struct {
	URL       string
	APIKey    string
	APISecret string
}

// Validate fails with a configuration error naming every missing field.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.URL) == "" {
		missing = append(missing, EnvURL)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, EnvAPIKey)
	}
	if strings.TrimSpace(c.APISecret) == "" {
		missing = append(missing, EnvAPISecret)
	}
	if len(missing) > 0 {
		return fault.Configuration(
			fault.Configurationf("missing credentials: %s", strings.Join(missing, ", ")),
			"set "+strings.Join(missing, ", ")+" or enter them when prompted",
		)
	}
	return nil
}

// BaseURL is the appliance URL without a trailing slash.
func (c Credentials) BaseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.URL), "/")
}
