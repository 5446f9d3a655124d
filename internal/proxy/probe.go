package proxy

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/metrics"
	"github.com/avitobridge/avitobridge/internal/models"
)

// DefaultProbeURL is an unauthenticated IP-echo endpoint used to verify that
// a proxy can move bytes at all, independent of the Avito API.
const DefaultProbeURL = "https://api.ipify.org?format=json"

// DefaultProbeTimeout bounds one reachability probe.
const DefaultProbeTimeout = 15 * time.Second

// ProbeResult is the outcome of one reachability probe. The prober never
// returns Go errors for probe failures; failure is data here.
type ProbeResult struct {
	Reachable bool          `json:"reachable"`
	Message   string        `json:"message"`
	Latency   time.Duration `json:"latency"`
}

// Prober checks whether a configured proxy can reach the outside world.
type Prober struct {
	probeURL string
	timeout  time.Duration
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeURL overrides the probe target.
func WithProbeURL(url string) ProberOption {
	return func(p *Prober) {
		if url != "" {
			p.probeURL = url
		}
	}
}

// WithProbeTimeout overrides the probe timeout.
func WithProbeTimeout(timeout time.Duration) ProberOption {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithTransportOptions passes transport options through to the probe client.
func WithTransportOptions(opts Options) ProberOption {
	return func(p *Prober) {
		p.opts = opts
	}
}

// WithProbeMetrics sets the metrics recorder for probe outcomes.
func WithProbeMetrics(m *metrics.Metrics) ProberOption {
	return func(p *Prober) { p.metrics = m }
}

// NewProber creates a reachability prober.
func NewProber(logger *logging.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		probeURL: DefaultProbeURL,
		timeout:  DefaultProbeTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewLogger()
	}
	return p
}

// TestReachability issues one lightweight request through the configured
// proxy. It distinguishes refused, timeout, DNS, auth and protocol failures
// into separate messages. Retrying is the caller's business.
func (p *Prober) TestReachability(ctx context.Context, cfg *models.ProxyConfig) ProbeResult {
	result := p.probe(ctx, cfg)
	if p.metrics != nil {
		outcome := "ok"
		if !result.Reachable {
			outcome = "failed"
		}
		p.metrics.RecordProxyProbe(outcome)
	}
	return result
}

func (p *Prober) probe(ctx context.Context, cfg *models.ProxyConfig) ProbeResult {
	start := time.Now()

	client, err := NewClient(cfg, p.timeout, p.opts)
	if err != nil {
		var unsupported *errors.ErrUnsupportedProxyProtocol
		if stderrors.As(err, &unsupported) {
			return ProbeResult{
				Reachable: false,
				Message:   fmt.Sprintf("proxy protocol %s is not supported; use http or socks5", unsupported.Protocol),
				Latency:   time.Since(start),
			}
		}
		return ProbeResult{
			Reachable: false,
			Message:   fmt.Sprintf("proxy configuration rejected: %v", err),
			Latency:   time.Since(start),
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.probeURL, nil)
	if err != nil {
		return ProbeResult{Reachable: false, Message: fmt.Sprintf("failed to build probe request: %v", err), Latency: time.Since(start)}
	}

	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		msg := classifyProbeError(err, cfg)
		p.logger.DebugWithContext(ctx, "proxy probe failed",
			"proxy", cfg.Redacted(),
			"error", err.Error(),
		)
		return ProbeResult{Reachable: false, Message: msg, Latency: latency}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusProxyAuthRequired {
		return ProbeResult{
			Reachable: false,
			Message:   "proxy requires authentication (407): check proxy username and password",
			Latency:   latency,
		}
	}
	if resp.StatusCode >= 400 {
		return ProbeResult{
			Reachable: false,
			Message:   fmt.Sprintf("proxy probe returned HTTP %d: the proxy may be mangling traffic", resp.StatusCode),
			Latency:   latency,
		}
	}

	return ProbeResult{
		Reachable: true,
		Message:   fmt.Sprintf("proxy %s is reachable", cfg.Redacted()),
		Latency:   latency,
	}
}

// classifyProbeError maps a transport error to an operator-facing message.
// Every message names the proxy so the UI can attribute the failure.
func classifyProbeError(err error, cfg *models.ProxyConfig) string {
	where := cfg.Redacted()

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return fmt.Sprintf("proxy %s: DNS lookup failed for %s: check the proxy host", where, dnsErr.Name)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("proxy %s timed out: the proxy is down or very slow", where)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return fmt.Sprintf("proxy %s refused the connection: check host and port", where)
	case strings.Contains(msg, "Proxy Authentication Required"), strings.Contains(msg, "407"):
		return fmt.Sprintf("proxy %s requires authentication: check username and password", where)
	case strings.Contains(msg, "socks"):
		return fmt.Sprintf("proxy %s rejected the SOCKS handshake: %v", where, err)
	case strings.Contains(msg, "context deadline exceeded"):
		return fmt.Sprintf("proxy %s timed out: the proxy is down or very slow", where)
	default:
		return fmt.Sprintf("proxy %s probe failed: %v", where, err)
	}
}
