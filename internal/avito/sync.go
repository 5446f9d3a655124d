package avito

import (
	"context"
	"time"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/models"
)

// statsWindowDays is the detailed-stats lookback used by SyncAccountData.
const statsWindowDays = 30

// SyncAccountData pulls balance, item counts and view/contact totals in one
// pass. The sub-fetches are independent: a failed part is reported in
// FailedParts with its fields zeroed, and only when every part fails does the
// whole sync fail.
func (c *ApiClient) SyncAccountData(ctx context.Context) (*models.SyncResult, error) {
	result := &models.SyncResult{
		AccountID: c.creds.AccountID,
		SyncedAt:  time.Now().UTC(),
	}
	var errs []error

	if balance, err := c.GetBalance(ctx); err != nil {
		result.FailedParts = append(result.FailedParts, "balance")
		errs = append(errs, err)
		c.logger.WarnWithContext(ctx, "sync: balance fetch failed",
			"account_id", c.creds.AccountID,
			"error", err.Error(),
		)
	} else {
		result.Balance = *balance
	}

	if items, err := c.GetItemsStats(ctx); err != nil {
		result.FailedParts = append(result.FailedParts, "items")
		errs = append(errs, err)
		c.logger.WarnWithContext(ctx, "sync: items fetch failed",
			"account_id", c.creds.AccountID,
			"error", err.Error(),
		)
	} else {
		result.Items = *items
	}

	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	windowStart := now.AddDate(0, 0, -statsWindowDays).Format("2006-01-02")

	if rows, err := c.GetItemsStatsDetailed(ctx, windowStart, today); err != nil {
		result.FailedParts = append(result.FailedParts, "stats")
		errs = append(errs, err)
		c.logger.WarnWithContext(ctx, "sync: stats fetch failed",
			"account_id", c.creds.AccountID,
			"error", err.Error(),
		)
	} else {
		result.Totals = sumStats(rows)
		// Today's subset is a second, narrower range over the same endpoint.
		if todayRows, err := c.GetItemsStatsDetailed(ctx, today, today); err != nil {
			c.logger.WarnWithContext(ctx, "sync: today stats fetch failed",
				"account_id", c.creds.AccountID,
				"error", err.Error(),
			)
		} else {
			result.TodayTotals = sumStats(todayRows)
		}
	}

	if len(errs) == 3 {
		return nil, &errors.ErrSyncFailed{AccountID: c.creds.AccountID, Errs: errs}
	}
	return result, nil
}

func sumStats(rows []models.ItemStatsDetailed) models.StatsTotals {
	var totals models.StatsTotals
	for _, row := range rows {
		totals.Views += row.Views
		totals.Contacts += row.Contacts
		totals.Favorites += row.Favorites
	}
	return totals
}
