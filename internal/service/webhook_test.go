package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/perpmatch/internal/domain"
)

type delivery struct {
	payload map[string]any
	header  http.Header
}

// newHookServer starts a TLS server that forwards every delivery to the
// returned channel.
func newHookServer(t *testing.T, status int) (*httptest.Server, chan delivery) {
	t.Helper()
	ch := make(chan delivery, 16)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		ch <- delivery{payload: payload, header: r.Header.Clone()}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, ch
}

func newTestWebhookService(env *testEnv, client *http.Client) *WebhookService {
	svc := NewWebhookService(env.webhooks, env.accounts, 5*time.Second, env.logger)
	if client != nil {
		svc.client = client
	}
	return svc
}

func receive(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
	return delivery{}
}

func expectNone(t *testing.T, ch chan delivery) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery: %v", d.payload)
	case <-time.After(100 * time.Millisecond):
	}
}

// --- Upsert tests ---

func TestWebhookUpsert_Success(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestWebhookService(env, nil)
	alice := env.account(t, 0)

	webhooks, created, err := svc.Upsert(UpsertWebhookRequest{
		Owner:  alice,
		URL:    "https://example.com/hooks",
		Events: []string{"fill.settled", "order.out", "fill.settled"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true for new subscriptions")
	}
	if len(webhooks) != 2 {
		t.Fatalf("got %d webhooks, want 2 after deduplication", len(webhooks))
	}
	if webhooks[0].Event != "fill.settled" || webhooks[1].Event != "order.out" {
		t.Errorf("got events %q and %q", webhooks[0].Event, webhooks[1].Event)
	}

	again, created, err := svc.Upsert(UpsertWebhookRequest{
		Owner:  alice,
		URL:    "https://example.com/other",
		Events: []string{"order.out"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false when updating")
	}
	if again[0].ID != webhooks[1].ID || again[0].URL != "https://example.com/other" {
		t.Errorf("expected stable id with new URL, got %+v", again[0])
	}

	list, err := svc.List(alice)
	if err != nil || len(list) != 2 {
		t.Fatalf("List() = %d webhooks, %v", len(list), err)
	}
}

func TestWebhookUpsert_Validation(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestWebhookService(env, nil)
	alice := env.account(t, 0)

	tests := []struct {
		name string
		req  UpsertWebhookRequest
	}{
		{"empty url", UpsertWebhookRequest{Owner: alice, Events: []string{"order.out"}}},
		{"http scheme", UpsertWebhookRequest{Owner: alice, URL: "http://example.com", Events: []string{"order.out"}}},
		{"relative url", UpsertWebhookRequest{Owner: alice, URL: "/hooks", Events: []string{"order.out"}}},
		{"no events", UpsertWebhookRequest{Owner: alice, URL: "https://example.com"}},
		{"unknown event", UpsertWebhookRequest{Owner: alice, URL: "https://example.com", Events: []string{"trade.executed"}}},
		{"bad owner", UpsertWebhookRequest{Owner: "x", URL: "https://example.com", Events: []string{"order.out"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Upsert(tt.req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %v", err)
			}
		})
	}

	_, _, err := svc.Upsert(UpsertWebhookRequest{Owner: uuid.NewString(), URL: "https://example.com", Events: []string{"order.out"}})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestWebhookDelete(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestWebhookService(env, nil)
	alice := env.account(t, 0)
	webhooks, _, _ := svc.Upsert(UpsertWebhookRequest{Owner: alice, URL: "https://example.com", Events: []string{"order.out"}})

	if err := svc.Delete(alice, "nope"); !errors.Is(err, domain.ErrWebhookNotFound) {
		t.Errorf("expected ErrWebhookNotFound, got %v", err)
	}
	if err := svc.Delete(alice, webhooks[0].ID.String()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list, _ := svc.List(alice); len(list) != 0 {
		t.Errorf("expected no webhooks, got %d", len(list))
	}
}

// --- Dispatch tests ---

func TestFillSettled_SendsBothParties(t *testing.T) {
	env := newTestEnv(t)
	server, ch := newHookServer(t, http.StatusOK)
	svc := newTestWebhookService(env, server.Client())
	maker := uuid.New()
	taker := uuid.New()
	for _, owner := range []uuid.UUID{maker, taker} {
		env.webhooks.Upsert(domain.Webhook{ID: uuid.New(), Owner: owner, Event: domain.WebhookFillSettled, URL: server.URL + "/hooks"})
	}

	f := domain.Fill{
		Market:       "SOL-PERP",
		Seq:          7,
		TakerSide:    domain.SideBid,
		Maker:        maker,
		Taker:        taker,
		MakerOrderID: domain.OrderID{Side: domain.SideAsk, PriceLots: 215, Seq: 3},
		PriceLots:    215,
		Quantity:     4,
		ExecutedAt:   time.Date(2026, 2, 16, 16, 29, 0, 0, time.UTC),
	}
	svc.FillSettled(env.market.Market(), f)

	byRole := make(map[string]delivery)
	for i := 0; i < 2; i++ {
		d := receive(t, ch)
		data := d.payload["data"].(map[string]any)
		byRole[data["role"].(string)] = d
	}

	taken := byRole["taker"]
	data := taken.payload["data"].(map[string]any)
	if taken.payload["event"] != "fill.settled" || taken.payload["timestamp"] != "2026-02-16T16:29:00Z" {
		t.Errorf("unexpected envelope: %v", taken.payload)
	}
	if data["owner"] != taker.String() || data["side"] != "bid" {
		t.Errorf("unexpected taker data: %v", data)
	}
	// 215 price lots × 10 / 100 = 21.5; 4 lots × 100 = 400.
	if data["price"] != "21.5" || data["quantity"] != "400" {
		t.Errorf("got price %v quantity %v, want 21.5 and 400", data["price"], data["quantity"])
	}
	if taken.header.Get("X-Event-Type") != "fill.settled" || taken.header.Get("X-Delivery-Id") == "" {
		t.Errorf("unexpected headers: %v", taken.header)
	}

	made := byRole["maker"].payload["data"].(map[string]any)
	if made["owner"] != maker.String() || made["side"] != "ask" {
		t.Errorf("unexpected maker data: %v", made)
	}
}

func TestOrderOut_SendsPayload(t *testing.T) {
	env := newTestEnv(t)
	server, ch := newHookServer(t, http.StatusOK)
	svc := newTestWebhookService(env, server.Client())
	owner := uuid.New()
	wh, _ := env.webhooks.Upsert(domain.Webhook{ID: uuid.New(), Owner: owner, Event: domain.WebhookOrderOut, URL: server.URL})

	e := domain.NewOutEvent(owner, domain.SideAsk, domain.OrderID{}, 2, testNow)
	e.Seq = 11
	svc.OrderOut(env.market.Market(), e)

	d := receive(t, ch)
	data := d.payload["data"].(map[string]any)
	if data["seq"] != float64(11) || data["quantity"] != "200" || data["side"] != "ask" {
		t.Errorf("unexpected data: %v", data)
	}
	if _, ok := data["order_id"]; ok {
		t.Error("expected no order_id for a discarded taker remainder")
	}
	if d.header.Get("X-Webhook-Id") != wh.ID.String() {
		t.Errorf("got X-Webhook-Id %q, want %q", d.header.Get("X-Webhook-Id"), wh.ID)
	}
}

func TestDispatch_NoSubscription_NoRequest(t *testing.T) {
	env := newTestEnv(t)
	server, ch := newHookServer(t, http.StatusOK)
	svc := newTestWebhookService(env, server.Client())
	owner := uuid.New()

	svc.FillSettled(env.market.Market(), domain.Fill{Maker: owner, Taker: uuid.New(), Quantity: 1})
	svc.OrderOut(env.market.Market(), domain.NewOutEvent(owner, domain.SideBid, domain.OrderID{}, 1, testNow))

	expectNone(t, ch)
}

func TestDispatch_ServerError_Ignored(t *testing.T) {
	env := newTestEnv(t)
	server, ch := newHookServer(t, http.StatusInternalServerError)
	svc := newTestWebhookService(env, server.Client())
	owner := uuid.New()
	env.webhooks.Upsert(domain.Webhook{ID: uuid.New(), Owner: owner, Event: domain.WebhookOrderOut, URL: server.URL})

	svc.OrderOut(env.market.Market(), domain.NewOutEvent(owner, domain.SideBid, domain.OrderID{}, 1, testNow))
	receive(t, ch)
}

func TestCrank_NotifiesSettledEvents(t *testing.T) {
	env := newTestEnv(t)
	server, ch := newHookServer(t, http.StatusOK)
	svc := newTestWebhookService(env, server.Client())
	r, _ := NewRegistry(env.market)
	c := NewCrank(time.Millisecond, 8, 1024, r, env.fills, svc, env.logger)
	alice := env.account(t, 0)
	bob := env.account(t, 0)
	if _, _, err := svc.Upsert(UpsertWebhookRequest{Owner: alice, URL: server.URL, Events: []string{"order.out"}}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if _, err := env.market.PlaceOrder(limitReq(alice, "ask", "1", "100")); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}
	if _, err := env.market.PlaceOrder(limitReq(bob, "bid", "1", "100")); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}
	c.tick()

	d := receive(t, ch)
	data := d.payload["data"].(map[string]any)
	if data["owner"] != alice || data["quantity"] != "0" {
		t.Errorf("expected alice's filled maker to be reported out with 0, got %v", data)
	}
	expectNone(t, ch)
}
