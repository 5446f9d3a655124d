package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avitobridge/avitobridge/internal/avito"
	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/models"
)

// AccountRequest is the upsert payload. Credentials and proxy are embedded so
// one call fully provisions an account.
type AccountRequest struct {
	ID               string              `json:"id" binding:"required"`
	Name             string              `json:"name"`
	Enabled          *bool               `json:"enabled"`
	ClientID         string              `json:"client_id" binding:"required"`
	ClientSecret     string              `json:"client_secret" binding:"required"`
	Proxy            *models.ProxyConfig `json:"proxy,omitempty"`
	KeepAliveEnabled bool                `json:"keep_alive_enabled"`
	KeepAliveSeconds int64               `json:"keep_alive_seconds"`
}

// AccountResponse is an account without its secret.
type AccountResponse struct {
	models.Account
	Online    *bool      `json:"online,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

// KeepAliveRequest toggles keep-alive for an account.
type KeepAliveRequest struct {
	Enabled         bool  `json:"enabled"`
	IntervalSeconds int64 `json:"interval_seconds"`
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts := s.store.ListAccounts()
	out := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, s.accountResponse(acc))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (s *Server) handleGetAccount(c *gin.Context) {
	acc, ok := s.store.GetAccount(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "account not found", Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, s.accountResponse(acc))
}

func (s *Server) accountResponse(acc *models.Account) AccountResponse {
	resp := AccountResponse{Account: *acc}
	if status, ok := s.store.GetStatus(acc.ID); ok {
		resp.Online = &status.Online
		resp.CheckedAt = &status.CheckedAt
	}
	return resp
}

func (s *Server) handleUpsertAccount(c *gin.Context) {
	var req AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	acc := &models.Account{
		ID:                req.ID,
		Name:              req.Name,
		Enabled:           enabled,
		KeepAliveEnabled:  req.KeepAliveEnabled,
		KeepAliveInterval: time.Duration(req.KeepAliveSeconds) * time.Second,
	}

	if req.Proxy != nil {
		if req.Proxy.ID == "" {
			req.Proxy.ID = "proxy-" + req.ID
		}
		if err := s.store.SetProxy(req.Proxy); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_proxy", Message: err.Error(), Code: http.StatusBadRequest})
			return
		}
		acc.ProxyID = req.Proxy.ID
	}

	if err := s.store.SetAccount(acc); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_account", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	creds := &models.AccountCredentials{AccountID: req.ID, ClientID: req.ClientID, ClientSecret: req.ClientSecret}
	if err := s.store.SetCredentials(req.ID, creds); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_credentials", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	if s.scheduler != nil {
		if acc.Enabled && acc.KeepAliveEnabled {
			if err := s.scheduler.Start(acc.ID, acc.KeepAliveInterval); err != nil {
				s.logger.ErrorWithContext(c.Request.Context(), "failed to start keep-alive job",
					"account_id", acc.ID,
					"error", err.Error(),
				)
			}
		} else {
			// An upsert that disables the account or its keep-alive must also
			// retire any job left over from the previous state.
			s.scheduler.Stop(acc.ID)
		}
	}

	c.JSON(http.StatusOK, s.accountResponse(acc))
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	id := c.Param("id")
	if s.scheduler != nil {
		s.scheduler.Stop(id)
	}
	if !s.store.DeleteAccount(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "account not found", Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// clientFor resolves the account's credentials and proxy and builds a client.
func (s *Server) clientFor(accountID string) (*avito.ApiClient, *models.AccountCredentials, *models.ProxyConfig, *ErrorResponse) {
	acc, ok := s.store.GetAccount(accountID)
	if !ok {
		return nil, nil, nil, &ErrorResponse{Error: "not_found", Message: "account not found", Code: http.StatusNotFound}
	}
	creds, ok := s.store.GetCredentials(accountID)
	if !ok {
		return nil, nil, nil, &ErrorResponse{Error: "no_credentials", Message: "account has no stored credentials", Code: http.StatusConflict}
	}

	var proxyCfg *models.ProxyConfig
	if acc.ProxyID != "" {
		proxyCfg, ok = s.store.GetProxy(acc.ProxyID)
		if !ok {
			return nil, nil, nil, &ErrorResponse{Error: "no_proxy", Message: "account references a missing proxy", Code: http.StatusConflict}
		}
	}

	client, err := s.clients(*creds, proxyCfg)
	if err != nil {
		return nil, nil, nil, &ErrorResponse{Error: "client_build_failed", Message: err.Error(), Code: http.StatusInternalServerError}
	}
	return client, creds, proxyCfg, nil
}

func (s *Server) handleTestConnection(c *gin.Context) {
	client, _, _, errResp := s.clientFor(c.Param("id"))
	if errResp != nil {
		c.JSON(errResp.Code, errResp)
		return
	}
	result := client.TestConnection(c.Request.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

func (s *Server) handleDiagnose(c *gin.Context) {
	_, creds, proxyCfg, errResp := s.clientFor(c.Param("id"))
	if errResp != nil {
		c.JSON(errResp.Code, errResp)
		return
	}
	report := s.diag.Run(c.Request.Context(), *creds, proxyCfg)
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleSync(c *gin.Context) {
	accountID := c.Param("id")
	client, _, _, errResp := s.clientFor(accountID)
	if errResp != nil {
		c.JSON(errResp.Code, errResp)
		return
	}

	result, err := client.SyncAccountData(c.Request.Context())
	if err != nil {
		if s.alerts != nil {
			if kind := errors.KindOf(err); kind == errors.KindProxyBlocking {
				s.alerts.ProxyBlocking(accountID, err.Error())
			} else {
				s.alerts.SyncFailed(accountID, err)
			}
		}
		c.JSON(statusForKind(errors.KindOf(err)), ErrorResponse{
			Error:   string(errors.KindOf(err)),
			Message: err.Error(),
			Code:    statusForKind(errors.KindOf(err)),
		})
		return
	}

	if err := s.store.SetLastSync(result); err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "failed to persist sync result",
			"account_id", accountID,
			"error", err.Error(),
		)
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleKeepAlive(c *gin.Context) {
	accountID := c.Param("id")
	var req KeepAliveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	acc, ok := s.store.GetAccount(accountID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "account not found", Code: http.StatusNotFound})
		return
	}

	acc.KeepAliveEnabled = req.Enabled
	if req.IntervalSeconds > 0 {
		acc.KeepAliveInterval = time.Duration(req.IntervalSeconds) * time.Second
	}
	if err := s.store.SetAccount(acc); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_account", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	if s.scheduler != nil {
		if req.Enabled {
			if err := s.scheduler.Start(accountID, acc.KeepAliveInterval); err != nil {
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "keepalive_start_failed", Message: err.Error(), Code: http.StatusInternalServerError})
				return
			}
		} else {
			s.scheduler.Stop(accountID)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"enabled":    req.Enabled,
		"interval":   acc.KeepAliveInterval.String(),
	})
}

// statusForKind maps integration failure kinds onto HTTP statuses.
func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidCredentials, errors.KindAuthenticationError:
		return http.StatusUnauthorized
	case errors.KindRateLimited:
		return http.StatusTooManyRequests
	case errors.KindProxyUnreachable, errors.KindProxyBlocking, errors.KindNetworkUnreachable,
		errors.KindServerError, errors.KindSyncFailed:
		return http.StatusBadGateway
	case errors.KindUnsupportedProxy:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
