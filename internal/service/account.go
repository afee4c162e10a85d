package service

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/store"
)

// RegisterAccountRequest represents the input for account registration.
// An empty ID lets the service generate one.
type RegisterAccountRequest struct {
	ID            string
	RiskLimitLots int64
}

// AccountResponse is an account together with its per-market positions.
type AccountResponse struct {
	Account   *domain.Account
	Positions []MarketPosition
}

// MarketPosition is the position of an account in one market.
type MarketPosition struct {
	Market   string
	Position domain.Position
}

// AccountService handles account registration, lookup and closing.
type AccountService struct {
	accounts  *store.AccountStore
	positions *store.PositionStore
	fills     *store.FillStore
	webhooks  *store.WebhookStore
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	accounts *store.AccountStore,
	positions *store.PositionStore,
	fills *store.FillStore,
	webhooks *store.WebhookStore,
) *AccountService {
	return &AccountService{
		accounts:  accounts,
		positions: positions,
		fills:     fills,
		webhooks:  webhooks,
	}
}

// Register validates the request and creates an account.
func (s *AccountService) Register(req RegisterAccountRequest) (*domain.Account, error) {
	id := uuid.New()
	if req.ID != "" {
		parsed, err := uuid.Parse(req.ID)
		if err != nil || parsed == uuid.Nil {
			return nil, &domain.ValidationError{Message: "id must be a non-nil UUID"}
		}
		id = parsed
	}
	if req.RiskLimitLots < 0 || req.RiskLimitLots > domain.MaxLots {
		return nil, &domain.ValidationError{Message: "risk_limit_lots must be between 0 and 2147483648"}
	}

	account := &domain.Account{
		ID:            id,
		RiskLimitLots: req.RiskLimitLots,
		CreatedAt:     time.Now(),
	}
	if err := s.accounts.Create(account); err != nil {
		return nil, err
	}
	return account, nil
}

// Get returns the account and its positions sorted by market.
func (s *AccountService) Get(id string) (*AccountResponse, error) {
	owner, err := parseOwner(id)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.Get(owner)
	if err != nil {
		return nil, err
	}

	byMarket := s.positions.ByOwner(owner)
	positions := make([]MarketPosition, 0, len(byMarket))
	for market, p := range byMarket {
		positions = append(positions, MarketPosition{Market: market, Position: p})
	}
	slices.SortFunc(positions, func(a, b MarketPosition) int {
		return strings.Compare(a.Market, b.Market)
	})

	return &AccountResponse{Account: account, Positions: positions}, nil
}

// Close deletes an account that has no position and no resting orders,
// together with its webhook subscriptions.
func (s *AccountService) Close(id string) error {
	owner, err := parseOwner(id)
	if err != nil {
		return err
	}
	if err := s.positions.CloseAccount(owner); err != nil {
		return err
	}
	s.webhooks.DeleteOwner(owner)
	return nil
}

// ListFills returns a page of settled fills involving the account,
// newest first, with the total count.
func (s *AccountService) ListFills(id, market string, page, limit int) ([]domain.Fill, int, error) {
	owner, err := parseOwner(id)
	if err != nil {
		return nil, 0, err
	}
	if !s.accounts.Exists(owner) {
		return nil, 0, domain.ErrAccountNotFound
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	fills, total := s.fills.ListByOwner(owner, market, page, limit)
	return fills, total, nil
}

func parseOwner(s string) (uuid.UUID, error) {
	owner, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Message: "owner must be a UUID"}
	}
	return owner, nil
}
