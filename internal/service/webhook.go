package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/store"
)

// Valid webhook event types.
var validWebhookEvents = map[string]bool{
	domain.WebhookFillSettled: true,
	domain.WebhookOrderOut:    true,
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	Owner  string
	URL    string
	Events []string
}

// WebhookService handles webhook CRUD and event dispatch.
type WebhookService struct {
	store    *store.WebhookStore
	accounts *store.AccountStore
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(
	webhookStore *store.WebhookStore,
	accounts *store.AccountStore,
	webhookTimeout time.Duration,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		store:    webhookStore,
		accounts: accounts,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger: logger,
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]domain.Webhook, bool, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, false, err
	}
	if !s.accounts.Exists(owner) {
		return nil, false, domain.ErrAccountNotFound
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: fill.settled, order.out",
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]domain.Webhook, 0, len(events))
	for _, event := range events {
		w, created := s.store.Upsert(domain.Webhook{
			ID:        uuid.New(),
			Owner:     owner,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, w)
	}
	return webhooks, anyCreated, nil
}

// List validates the account exists and returns its webhook subscriptions.
func (s *WebhookService) List(ownerID string) ([]domain.Webhook, error) {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return nil, err
	}
	if !s.accounts.Exists(owner) {
		return nil, domain.ErrAccountNotFound
	}
	return s.store.ListByOwner(owner), nil
}

// Delete removes a webhook subscription of an account.
func (s *WebhookService) Delete(ownerID, webhookID string) error {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(webhookID)
	if err != nil {
		return domain.ErrWebhookNotFound
	}
	return s.store.Delete(owner, id)
}

// fillPayload is the JSON payload for fill.settled webhooks.
type fillPayload struct {
	Event     string   `json:"event"`
	Timestamp string   `json:"timestamp"`
	Data      fillData `json:"data"`
}

type fillData struct {
	Market       string          `json:"market"`
	Seq          uint64          `json:"seq"`
	Owner        string          `json:"owner"`
	Role         string          `json:"role"`
	Side         string          `json:"side"`
	MakerOrderID string          `json:"maker_order_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// outPayload is the JSON payload for order.out webhooks.
type outPayload struct {
	Event     string  `json:"event"`
	Timestamp string  `json:"timestamp"`
	Data      outData `json:"data"`
}

type outData struct {
	Market   string          `json:"market"`
	Seq      uint64          `json:"seq"`
	Owner    string          `json:"owner"`
	Side     string          `json:"side"`
	OrderID  string          `json:"order_id,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
}

// FillSettled notifies both parties of a settled fill. Fire-and-forget.
func (s *WebhookService) FillSettled(m domain.Market, f domain.Fill) {
	s.dispatchFill(m, f, f.Taker, "taker", f.TakerSide)
	if f.Maker != f.Taker {
		s.dispatchFill(m, f, f.Maker, "maker", f.TakerSide.Invert())
	}
}

func (s *WebhookService) dispatchFill(m domain.Market, f domain.Fill, owner uuid.UUID, role string, side domain.Side) {
	wh, ok := s.store.Lookup(owner, domain.WebhookFillSettled)
	if !ok {
		return
	}
	payload := fillPayload{
		Event:     domain.WebhookFillSettled,
		Timestamp: f.ExecutedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: fillData{
			Market:       f.Market,
			Seq:          f.Seq,
			Owner:        owner.String(),
			Role:         role,
			Side:         side.String(),
			MakerOrderID: f.MakerOrderID.String(),
			Price:        m.LotsToPrice(f.PriceLots),
			Quantity:     m.LotsToQuantity(f.Quantity),
		},
	}
	go s.deliver(wh, payload)
}

// OrderOut notifies the owner of base lots that left the book, or never
// reached it, without being filled. Fire-and-forget.
func (s *WebhookService) OrderOut(m domain.Market, e domain.Event) {
	wh, ok := s.store.Lookup(e.Owner, domain.WebhookOrderOut)
	if !ok {
		return
	}
	data := outData{
		Market:   m.Name,
		Seq:      e.Seq,
		Owner:    e.Owner.String(),
		Side:     e.Side.String(),
		Quantity: m.LotsToQuantity(e.Quantity),
	}
	if e.OrderID != (domain.OrderID{}) {
		data.OrderID = e.OrderID.String()
	}
	payload := outPayload{
		Event:     domain.WebhookOrderOut,
		Timestamp: e.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      data,
	}
	go s.deliver(wh, payload)
}

// deliver sends the webhook payload via HTTP POST with the required headers.
// Failures are logged and not retried.
func (s *WebhookService) deliver(wh domain.Webhook, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.ID.String())
	req.Header.Set("X-Event-Type", wh.Event)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("webhook delivery failed",
			slog.String("webhook_id", wh.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()
}
