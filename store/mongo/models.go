package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/turnstile/account"
	"github.com/xraph/turnstile/id"
	"github.com/xraph/turnstile/ledger"
	"github.com/xraph/turnstile/types"
)

// ==================== Account model ====================

type accountModel struct {
	UserID             string    `bson:"_id"`
	Version            int64     `bson:"version"`
	DailyFreeRemaining int       `bson:"daily_free_remaining"`
	LastReset          string    `bson:"last_reset,omitempty"`
	LifetimeDownloads  int64     `bson:"lifetime_downloads"`
	FreeDownloads      int64     `bson:"free_downloads"`
	AdDownloads        int64     `bson:"ad_downloads"`
	PointDownloads     int64     `bson:"point_downloads"`
	AdsWatched         int64     `bson:"ads_watched"`
	AdSessions         []string  `bson:"ad_sessions"`
	EmailCollected     bool      `bson:"email_collected"`
	Email              string    `bson:"email,omitempty"`
	PointBalance       int64     `bson:"point_balance"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

func toAccountModel(a *account.Account, version int64) *accountModel {
	sessions := a.AdSessions
	if sessions == nil {
		sessions = []string{}
	}
	return &accountModel{
		UserID:             a.UserID,
		Version:            version,
		DailyFreeRemaining: a.DailyFreeRemaining,
		LastReset:          a.LastReset.String(),
		LifetimeDownloads:  a.LifetimeDownloads,
		FreeDownloads:      a.FreeDownloads,
		AdDownloads:        a.AdDownloads,
		PointDownloads:     a.PointDownloads,
		AdsWatched:         a.AdsWatched,
		AdSessions:         sessions,
		EmailCollected:     a.EmailCollected,
		Email:              a.Email,
		PointBalance:       a.PointBalance,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, account.Version, error) {
	var lastReset types.Day
	if m.LastReset != "" {
		parsed, err := types.ParseDay(m.LastReset)
		if err != nil {
			return nil, 0, fmt.Errorf("turnstile/mongo: account %s: %w", m.UserID, err)
		}
		lastReset = parsed
	}

	a := &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		UserID:             m.UserID,
		DailyFreeRemaining: m.DailyFreeRemaining,
		LastReset:          lastReset,
		LifetimeDownloads:  m.LifetimeDownloads,
		FreeDownloads:      m.FreeDownloads,
		AdDownloads:        m.AdDownloads,
		PointDownloads:     m.PointDownloads,
		AdsWatched:         m.AdsWatched,
		AdSessions:         m.AdSessions,
		EmailCollected:     m.EmailCollected,
		Email:              m.Email,
		PointBalance:       m.PointBalance,
	}
	return a, account.Version(m.Version), nil
}

// ==================== Entry model ====================

type entryModel struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	Type         string    `bson:"type"`
	Amount       int64     `bson:"amount"`
	BalanceAfter int64     `bson:"balance_after"`
	Reference    string    `bson:"reference,omitempty"`
	ReferenceKey string    `bson:"reference_key,omitempty"`
	Description  string    `bson:"description,omitempty"`
	Status       string    `bson:"status"`
	CreatedAt    time.Time `bson:"created_at"`
}

func toEntryModel(e *ledger.Entry) *entryModel {
	m := &entryModel{
		ID:           e.ID.String(),
		UserID:       e.UserID,
		Type:         string(e.Type),
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Reference:    e.Reference,
		Description:  e.Description,
		Status:       string(e.Status),
		CreatedAt:    e.CreatedAt,
	}
	// Only settled references occupy an idempotency slot.
	if e.Reference != "" && e.Status != ledger.StatusFailed {
		m.ReferenceKey = e.Reference
	}
	return m
}

func fromEntryModel(m *entryModel) (*ledger.Entry, error) {
	entryID, err := id.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("turnstile/mongo: entry id: %w", err)
	}

	return &ledger.Entry{
		ID:           entryID,
		UserID:       m.UserID,
		Type:         ledger.Type(m.Type),
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		Reference:    m.Reference,
		Description:  m.Description,
		Status:       ledger.Status(m.Status),
		CreatedAt:    m.CreatedAt,
	}, nil
}
