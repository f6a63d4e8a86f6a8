package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store/storetest"
	"github.com/ticketmarket/settlement-service/pkg/paymentgateway"
)

const testOrganizerID = "user_organizer_1"

type fakeGateway struct {
	mu      sync.Mutex
	results map[string]*paymentgateway.Verification
	errs    map[string]error
	calls   int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		results: make(map[string]*paymentgateway.Verification),
		errs:    make(map[string]error),
	}
}

func (g *fakeGateway) succeed(reference string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.errs, reference)
	g.results[reference] = &paymentgateway.Verification{
		Reference: reference,
		Status:    "success",
		Amount:    amount,
		Currency:  "NGN",
	}
}

func (g *fakeGateway) respond(reference string, v *paymentgateway.Verification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.errs, reference)
	g.results[reference] = v
}

func (g *fakeGateway) fail(reference string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[reference] = err
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paymentgateway.Verification, error) {
	atomic.AddInt32(&g.calls, 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.errs[reference]; ok {
		return nil, err
	}
	v, ok := g.results[reference]
	if !ok {
		return nil, paymentgateway.ErrReferenceNotFound
	}
	copied := *v
	return &copied, nil
}

func (g *fakeGateway) callCount() int {
	return int(atomic.LoadInt32(&g.calls))
}

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) byRoutingKey(key string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.messages {
		if m.routingKey == key {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	service   *Service
	repo      *storetest.MemoryRepository
	gateway   *fakeGateway
	publisher *recordingPublisher
	eventID   uuid.UUID
}

func newFixture(t *testing.T, platformFeePercent *int) *fixture {
	t.Helper()

	repo := storetest.NewMemoryRepository()
	eventID := uuid.New()
	repo.AddEvent(domain.Event{
		ID:                 eventID,
		OrganizerID:        testOrganizerID,
		Title:              "Lagos Jazz Night",
		Currency:           "NGN",
		PlatformFeePercent: platformFeePercent,
		TicketTypes: []domain.TicketType{
			{Label: "Regular", Amount: 5000, Currency: "NGN"},
			{Label: "VIP", Amount: 20000, Currency: "NGN"},
		},
	})

	gateway := newFakeGateway()
	publisher := &recordingPublisher{}
	service := NewService(repo, gateway, publisher, Options{
		EventsExchange:            "tickets.events",
		DefaultPlatformFeePercent: DefaultPlatformFeePercent,
		SettlementCurrency:        "NGN",
		ReservationStaleAfter:     15 * time.Minute,
	})

	return &fixture{service: service, repo: repo, gateway: gateway, publisher: publisher, eventID: eventID}
}

func (f *fixture) request(reference string, qty int) domain.PurchaseRequest {
	return domain.PurchaseRequest{
		Reference:    reference,
		EventID:      f.eventID.String(),
		Email:        "buyer@example.com",
		Name:         "Ada Buyer",
		TicketType:   "Regular",
		TicketAmount: 5000,
		TicketNumber: qty,
	}
}

func (f *fixture) wallet(t *testing.T, ownerID string) domain.WalletBalance {
	t.Helper()
	wallet, err := f.repo.FindWalletByOwnerID(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("load wallet %s: %v", ownerID, err)
	}
	return *wallet
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.service.WaitForNotifications(ctx)
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	s := NewService(storetest.NewMemoryRepository(), newFakeGateway(), nil, Options{
		DefaultPlatformFeePercent: 150,
		AmountToleranceKobo:       -5,
		SettlementCurrency:        " ngn ",
	})

	if s.opts.EventsExchange != "tickets.events" {
		t.Fatalf("expected default exchange, got %q", s.opts.EventsExchange)
	}
	if s.opts.DefaultPlatformFeePercent != DefaultPlatformFeePercent {
		t.Fatalf("expected fee percent fallback, got %d", s.opts.DefaultPlatformFeePercent)
	}
	if s.opts.AmountToleranceKobo != 0 {
		t.Fatalf("expected tolerance clamp to 0, got %d", s.opts.AmountToleranceKobo)
	}
	if s.opts.SettlementCurrency != "NGN" {
		t.Fatalf("expected normalized currency, got %q", s.opts.SettlementCurrency)
	}
	if s.opts.ReservationStaleAfter != 15*time.Minute {
		t.Fatalf("expected default stale window, got %s", s.opts.ReservationStaleAfter)
	}
	if err := s.eventProducer.Publish(context.Background(), "x", "y", nil); err != nil {
		t.Fatalf("fallback producer should accept publishes: %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{
		5175:   "NGN 51.75",
		10350:  "NGN 103.50",
		5:      "NGN 0.05",
		100000: "NGN 1000.00",
	}
	for minor, want := range tests {
		if got := FormatAmount(minor, "ngn"); got != want {
			t.Fatalf("FormatAmount(%d) = %q, want %q", minor, got, want)
		}
	}
}

func TestWaitForNotificationsReturnsOnContextDone(t *testing.T) {
	f := newFixture(t, nil)
	f.service.notifications.Add(1)
	defer f.service.notifications.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		f.service.WaitForNotifications(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitForNotifications did not honour a cancelled context")
	}
}

var errInjected = errors.New("injected failure")
