package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avitobridge/avitobridge/internal/diag"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/proxy"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "diagnose"},
	Short:   "Run connection diagnostics for one account",
	Long: `Run the staged connection diagnostic without starting a server:
proxy reachability, then direct API access, then proxied API access.

The account is picked from the configuration file by id, or passed
directly via --client-id and --client-secret.

Examples:
  avitobridge check --account acc-1
  avitobridge check --client-id abc --client-secret xyz --proxy 10.0.0.1:8080`,
	RunE: runCheck,
}

var checkFlags struct {
	Account       string
	ClientID      string
	ClientSecret  string
	Proxy         string
	ProxyProtocol string
	ProxyUser     string
	ProxyPass     string
	Timeout       time.Duration
}

func init() {
	checkCmd.Flags().StringVar(&checkFlags.Account, "account", "", "Account id from the configuration file")
	checkCmd.Flags().StringVar(&checkFlags.ClientID, "client-id", "", "Avito OAuth client id")
	checkCmd.Flags().StringVar(&checkFlags.ClientSecret, "client-secret", "", "Avito OAuth client secret")
	checkCmd.Flags().StringVar(&checkFlags.Proxy, "proxy", "", "Proxy address as host:port")
	checkCmd.Flags().StringVar(&checkFlags.ProxyProtocol, "proxy-protocol", "http", "Proxy protocol (http, socks5)")
	checkCmd.Flags().StringVar(&checkFlags.ProxyUser, "proxy-user", "", "Proxy username")
	checkCmd.Flags().StringVar(&checkFlags.ProxyPass, "proxy-pass", "", "Proxy password")
	checkCmd.Flags().DurationVar(&checkFlags.Timeout, "timeout", time.Minute, "Overall diagnostic timeout")

	RootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	creds, proxyCfg, err := resolveCheckTarget()
	if err != nil {
		return err
	}

	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.WithService("avitobridge-check"))
	transportOpts := proxy.Options{UTLS: cfg.Avito.UTLS}
	runner := diag.NewRunner(logger,
		diag.WithBaseURL(cfg.Avito.BaseURL),
		diag.WithProber(proxy.NewProber(logger,
			proxy.WithProbeURL(cfg.Avito.ProbeURL),
			proxy.WithProbeTimeout(cfg.Avito.ProbeTimeout),
			proxy.WithTransportOptions(transportOpts),
		)),
		diag.WithTransportOptions(transportOpts),
	)

	ctx, cancel := context.WithTimeout(context.Background(), checkFlags.Timeout)
	defer cancel()
	report := runner.Run(ctx, creds, proxyCfg)

	return printReport(report, proxyCfg != nil)
}

// resolveCheckTarget prefers explicit credential flags; otherwise it looks the
// account up in the configuration file.
func resolveCheckTarget() (models.AccountCredentials, *models.ProxyConfig, error) {
	if checkFlags.ClientID != "" || checkFlags.ClientSecret != "" {
		creds := models.AccountCredentials{
			AccountID:    "check",
			ClientID:     checkFlags.ClientID,
			ClientSecret: checkFlags.ClientSecret,
		}
		if err := creds.Validate(); err != nil {
			return models.AccountCredentials{}, nil, err
		}
		proxyCfg, err := parseProxyFlag()
		return creds, proxyCfg, err
	}

	if checkFlags.Account == "" {
		return models.AccountCredentials{}, nil, fmt.Errorf("either --account or --client-id/--client-secret is required")
	}

	cfg, err := loadServeConfig()
	if err != nil {
		return models.AccountCredentials{}, nil, err
	}
	for i := range cfg.Accounts {
		entry := &cfg.Accounts[i]
		if entry.ID != checkFlags.Account {
			continue
		}
		creds := models.AccountCredentials{
			AccountID:    entry.ID,
			ClientID:     entry.ClientID,
			ClientSecret: entry.ClientSecret,
		}
		var proxyCfg *models.ProxyConfig
		if p := entry.Proxy; p != nil {
			proxyCfg = &models.ProxyConfig{
				ID:       "proxy-" + entry.ID,
				Host:     p.Host,
				Port:     p.Port,
				Protocol: models.ProxyProtocol(p.Protocol),
			}
			if p.Username != "" {
				proxyCfg.Auth = &models.ProxyAuth{Username: p.Username, Password: p.Password}
			}
		}
		return creds, proxyCfg, nil
	}
	return models.AccountCredentials{}, nil, fmt.Errorf("account %q not found in %s", checkFlags.Account, globalFlags.Config)
}

func parseProxyFlag() (*models.ProxyConfig, error) {
	if checkFlags.Proxy == "" {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(checkFlags.Proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid --proxy value %q: %w", checkFlags.Proxy, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --proxy port %q", portStr)
	}
	cfg := &models.ProxyConfig{
		ID:       "proxy-check",
		Host:     host,
		Port:     port,
		Protocol: models.ProxyProtocol(checkFlags.ProxyProtocol),
	}
	if checkFlags.ProxyUser != "" {
		cfg.Auth = &models.ProxyAuth{Username: checkFlags.ProxyUser, Password: checkFlags.ProxyPass}
	}
	return cfg, cfg.Validate()
}

func printReport(report *models.DiagnosticReport, hasProxy bool) error {
	if globalFlags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tRESULT")
	if hasProxy {
		fmt.Fprintf(w, "Proxy reachable\t%s\n", passFail(report.ProxyReachable))
	} else {
		fmt.Fprintln(w, "Proxy reachable\tSKIPPED (no proxy configured)")
	}
	fmt.Fprintf(w, "API direct\t%s\n", passFail(report.APIReachableDirect))
	if hasProxy {
		fmt.Fprintf(w, "API via proxy\t%s\n", passFail(report.APIReachableProxied))
	} else {
		fmt.Fprintln(w, "API via proxy\tSKIPPED (no proxy configured)")
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Recommendations:")
	for _, rec := range report.Recommendations {
		fmt.Println("  -", rec)
	}
	return nil
}

func passFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}
