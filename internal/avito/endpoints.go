package avito

// DefaultBaseURL is the Avito public API origin.
const DefaultBaseURL = "https://api.avito.ru"

// Token endpoint candidates. The primary path is first; the alternates exist
// because some proxies rewrite or block the canonical path.
var tokenPaths = []string{
	"/token",
	"/token/",
	"/oauth2/token",
}

// Account-info endpoint candidates probed in order by TestConnection. A 2xx,
// 401 or 403 from any of them proves the API is reachable through the
// current transport.
var accountInfoPaths = []string{
	"/core/v1/accounts/self",
	"/common/v1/accounts/self",
}

// CPA balance endpoints. v2 is deprecated upstream but still answers and is
// the only one that reports the advance component, so it is tried first.
// This order is a business assumption, not a documented contract.
var balancePaths = []string{
	"/cpa/v2/balanceInfo",
	"/cpa/v3/balanceInfo",
}

const (
	itemsPath        = "/core/v1/items"
	itemStatsPathFmt = "/stats/v1/accounts/%d/items"
)
