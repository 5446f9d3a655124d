package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avitobridge/avitobridge/internal/config"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/store"
)

// seedAccountsFromConfig upserts config-file accounts into the store. Runtime
// edits made through the API survive a reload: only fields the config file
// declares are overwritten.
func seedAccountsFromConfig(s store.Store, cfg *config.Config) error {
	if s == nil || cfg == nil {
		return nil
	}

	for i := range cfg.Accounts {
		entry := &cfg.Accounts[i]

		account := &models.Account{
			ID:                entry.ID,
			Name:              entry.Name,
			Enabled:           true,
			KeepAliveEnabled:  entry.KeepAlive.Enabled,
			KeepAliveInterval: entry.KeepAlive.Interval,
		}

		if p := entry.Proxy; p != nil {
			proxyCfg := &models.ProxyConfig{
				ID:       "proxy-" + entry.ID,
				Host:     p.Host,
				Port:     p.Port,
				Protocol: models.ProxyProtocol(p.Protocol),
			}
			if p.Username != "" {
				proxyCfg.Auth = &models.ProxyAuth{Username: p.Username, Password: p.Password}
			}
			if err := s.SetProxy(proxyCfg); err != nil {
				return fmt.Errorf("account %s: %w", entry.ID, err)
			}
			account.ProxyID = proxyCfg.ID
		}

		if err := s.SetAccount(account); err != nil {
			return fmt.Errorf("account %s: %w", entry.ID, err)
		}

		creds := &models.AccountCredentials{
			AccountID:    entry.ID,
			ClientID:     entry.ClientID,
			ClientSecret: entry.ClientSecret,
		}
		if err := s.SetCredentials(entry.ID, creds); err != nil {
			return fmt.Errorf("account %s: %w", entry.ID, err)
		}
	}

	return nil
}

// accountsCmd lists the accounts in the store without starting a server.
var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"a", "list"},
	Short:   "Inspect configured accounts",
	Long: `List all accounts known to AvitoBridge: those declared in the
configuration file plus any persisted in the SQLite database.

Example:
  avitobridge accounts --config config.yaml`,
	RunE: runAccounts,
}

func init() {
	RootCmd.AddCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	st, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := seedAccountsFromConfig(st, cfg); err != nil {
		return err
	}

	list := st.ListAccounts()

	if globalFlags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tKEEP-ALIVE\tPROXY")
	for _, acc := range list {
		keepAlive := "off"
		if acc.KeepAliveEnabled {
			keepAlive = acc.KeepAliveInterval.String()
			if acc.KeepAliveInterval == 0 {
				keepAlive = "default"
			}
		}
		proxyID := acc.ProxyID
		if proxyID == "" {
			proxyID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", acc.ID, acc.Name, acc.Enabled, keepAlive, proxyID)
	}
	return w.Flush()
}
