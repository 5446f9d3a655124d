package models

import "fmt"

// AccountCredentials holds the OAuth client-credentials pair for one account.
// The bridge only consumes these; it never writes them back to the store.
type AccountCredentials struct {
	AccountID    string `json:"account_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Validate checks that the pair is usable for a token request.
func (c *AccountCredentials) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	return nil
}

// Redacted returns a copy safe for logging.
func (c *AccountCredentials) Redacted() AccountCredentials {
	out := *c
	if len(out.ClientSecret) > 4 {
		out.ClientSecret = out.ClientSecret[:4] + "****"
	} else if out.ClientSecret != "" {
		out.ClientSecret = "****"
	}
	return out
}
