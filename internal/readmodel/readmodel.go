package readmodel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type accountReader interface {
	GetAccount(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*domain.Account, error)
}

type historyReader interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID, after *repository.Cursor, limit int) ([]domain.Transaction, error)
}

type totalsReader interface {
	Totals(ctx context.Context) (*repository.AggregateTotals, error)
}

// Balance is an account balance together with the version it was read at.
type Balance struct {
	Amount      int64
	Currency    domain.Currency
	AsOfVersion int64
}

type HistoryPage struct {
	Items []domain.Transaction
	// NextPage is empty on the last page.
	NextPage string
}

// Service answers queries over ledger state. It never writes.
type Service struct {
	accounts accountReader
	history  historyReader
	totals   totalsReader

	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   *repository.AggregateTotals
	cachedAt time.Time
}

// NewService builds the read model. Aggregate totals are memoised for
// cacheTTL; zero disables memoisation.
func NewService(accounts accountReader, history historyReader, totals totalsReader, cacheTTL time.Duration) *Service {
	return &Service{
		accounts: accounts,
		history:  history,
		totals:   totals,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (s *Service) CurrentBalance(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*Balance, error) {
	if !currency.IsValid() {
		return nil, fmt.Errorf("CurrentBalance: %w", domain.ErrInvalidCurrency)
	}
	a, err := s.accounts.GetAccount(ctx, ownerID, currency)
	if err != nil {
		return nil, fmt.Errorf("CurrentBalance: %w", err)
	}
	return &Balance{Amount: a.Balance, Currency: a.Currency, AsOfVersion: a.Version}, nil
}

// TransactionHistory returns one page of the owner's transactions, newest
// first. pageToken is the NextPage of the previous call, or empty.
func (s *Service) TransactionHistory(ctx context.Context, ownerID uuid.UUID, pageToken string, limit int) (*HistoryPage, error) {
	limit = clampLimit(limit)

	var after *repository.Cursor
	if pageToken != "" {
		c, err := decodePageToken(pageToken)
		if err != nil {
			return nil, fmt.Errorf("TransactionHistory: %w", err)
		}
		after = c
	}

	items, err := s.history.ListByOwner(ctx, ownerID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("TransactionHistory: %w", err)
	}

	page := &HistoryPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextPage = encodePageToken(repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Items == nil {
		page.Items = []domain.Transaction{}
	}
	return page, nil
}

// AggregateTotals reports platform-wide user balances and counts. Results
// may be up to the configured TTL old.
func (s *Service) AggregateTotals(ctx context.Context) (*repository.AggregateTotals, error) {
	if s.cacheTTL <= 0 {
		t, err := s.totals.Totals(ctx)
		if err != nil {
			return nil, fmt.Errorf("AggregateTotals: %w", err)
		}
		return t, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < s.cacheTTL {
		cp := *s.cached
		return &cp, nil
	}

	t, err := s.totals.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("AggregateTotals: %w", err)
	}
	s.cached, s.cachedAt = t, s.now()
	cp := *t
	return &cp, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

type pageToken struct {
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

func encodePageToken(c repository.Cursor) string {
	b, _ := json.Marshal(pageToken{CreatedAt: c.CreatedAt.UTC(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodePageToken(s string) (*repository.Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed page token: %w", domain.ErrInvalidRequest)
	}
	var pt pageToken
	if err := json.Unmarshal(b, &pt); err != nil || pt.ID == uuid.Nil || pt.CreatedAt.IsZero() {
		return nil, fmt.Errorf("malformed page token: %w", domain.ErrInvalidRequest)
	}
	return &repository.Cursor{CreatedAt: pt.CreatedAt, ID: pt.ID}, nil
}
