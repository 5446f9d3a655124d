// Package diag answers "why isn't this account working?" with a staged
// probe that isolates the failing layer: the proxy, the credentials, or the
// proxy-to-API path.
package diag

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/avitobridge/avitobridge/internal/avito"
	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/proxy"
)

// Runner executes the 3-stage diagnostic. It is stateless; every Run builds
// a fresh report and uses throwaway token managers so diagnostic traffic
// never touches the account's live token cache.
type Runner struct {
	logger        *logging.Logger
	prober        *proxy.Prober
	baseURL       string
	timeout       time.Duration
	transportOpts proxy.Options
}

// Option configures a Runner.
type Option func(*Runner)

// WithBaseURL overrides the API origin used for the token probes.
func WithBaseURL(baseURL string) Option {
	return func(r *Runner) {
		if baseURL != "" {
			r.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout bounds each stage's network call.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithProber replaces the proxy prober, for tests.
func WithProber(p *proxy.Prober) Option {
	return func(r *Runner) { r.prober = p }
}

// WithTransportOptions sets transport construction options.
func WithTransportOptions(opts proxy.Options) Option {
	return func(r *Runner) { r.transportOpts = opts }
}

// NewRunner builds a diagnostic runner.
func NewRunner(logger *logging.Logger, opts ...Option) *Runner {
	r := &Runner{
		logger:  logger,
		baseURL: avito.DefaultBaseURL,
		timeout: 20 * time.Second,
	}
	if r.logger == nil {
		r.logger = logging.NewLogger()
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.prober == nil {
		r.prober = proxy.NewProber(r.logger, proxy.WithTransportOptions(r.transportOpts))
	}
	return r
}

// Run probes the account's transport chain stage by stage and returns a
// report with ordered recommendations. It never returns an error; every
// failure mode is a finding.
func (r *Runner) Run(ctx context.Context, creds models.AccountCredentials, proxyCfg *models.ProxyConfig) *models.DiagnosticReport {
	report := &models.DiagnosticReport{}

	// Stage 1: is the proxy itself answering?
	if proxyCfg != nil {
		probe := r.prober.TestReachability(ctx, proxyCfg)
		report.ProxyReachable = probe.Reachable
		if !probe.Reachable {
			r.logger.InfoWithContext(ctx, "diagnostic stopped at proxy stage",
				"account_id", creds.AccountID,
				"proxy", proxyCfg.Redacted(),
				"detail", probe.Message,
			)
			report.Recommendations = append(report.Recommendations,
				"proxy is unreachable: "+probe.Message,
				"verify the proxy host, port and credentials, or switch to a different proxy",
			)
			return report
		}
	}

	// Stage 2: do the credentials work without any proxy in the way?
	if err := r.tryRefresh(ctx, creds, nil); err != nil {
		report.Recommendations = append(report.Recommendations, directFailureAdvice(err)...)
		r.logger.InfoWithContext(ctx, "diagnostic stopped at direct API stage",
			"account_id", creds.AccountID,
			"error", err.Error(),
		)
		return report
	}
	report.APIReachableDirect = true

	// Stage 3: does the same grant work through the configured proxy?
	if proxyCfg == nil {
		report.Recommendations = append(report.Recommendations,
			"credentials are valid and no proxy is configured; the account should work as-is")
		return report
	}
	if err := r.tryRefresh(ctx, creds, proxyCfg); err != nil {
		report.Recommendations = append(report.Recommendations, proxiedFailureAdvice(err)...)
		r.logger.InfoWithContext(ctx, "diagnostic stopped at proxied API stage",
			"account_id", creds.AccountID,
			"error", err.Error(),
		)
		return report
	}
	report.APIReachableProxied = true
	report.Recommendations = append(report.Recommendations,
		"proxy, credentials and proxied API access all check out; the account should work")
	return report
}

// tryRefresh performs one throwaway token refresh over the given transport.
func (r *Runner) tryRefresh(ctx context.Context, creds models.AccountCredentials, proxyCfg *models.ProxyConfig) error {
	tm, err := avito.NewTokenManager(creds, proxyCfg, r.transportOpts,
		avito.WithTokenBaseURL(r.baseURL),
		avito.WithTokenTimeout(r.timeout),
		avito.WithTokenLogger(r.logger),
	)
	if err != nil {
		return err
	}
	_, err = tm.Refresh(ctx)
	return err
}

// directFailureAdvice explains a stage-2 failure: the proxy is exonerated,
// so the problem is the credentials or general connectivity.
func directFailureAdvice(err error) []string {
	var invalid *errors.ErrInvalidCredentials
	if stderrors.As(err, &invalid) {
		return []string{
			"avito rejected the client credentials even without a proxy",
			"re-check client_id and client_secret in the account settings",
		}
	}
	var network *errors.ErrNetworkUnreachable
	if stderrors.As(err, &network) {
		return []string{
			"avito is unreachable even without a proxy: " + err.Error(),
			"check outbound network connectivity and DNS from this host",
		}
	}
	return []string{
		"direct token request failed: " + err.Error(),
		"re-check client_id and client_secret; the proxy is not the cause since direct access also fails",
	}
}

// proxiedFailureAdvice explains a stage-3 failure: direct access worked, so
// the proxy path is the remaining suspect.
func proxiedFailureAdvice(err error) []string {
	var blocking *errors.ErrProxyBlocking
	if stderrors.As(err, &blocking) {
		return []string{
			"the proxy intercepts avito traffic and serves its own response instead",
			"rotate to a different proxy provider, preferably a residential one; datacenter proxy ranges are commonly blocked",
		}
	}
	return []string{
		"token request through the proxy failed although direct access works: " + err.Error(),
		"retry later or try a different proxy; the credentials themselves are valid",
	}
}
