/**
 * @description
 * This file contains the core business logic for the settlement-service. The `Service`
 * struct orchestrates the purchase pipeline (reservation, gateway verification, ledger
 * settlement), ticket usage, reconciliation and the withdrawal workflow, coordinating
 * between the database repository, the payment gateway client and the message broker.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/metrics: Prometheus instruments (optional).
 * - pkg/paymentgateway, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ticketmarket/settlement-service/internal/metrics"
	"github.com/ticketmarket/settlement-service/internal/store"
	"github.com/ticketmarket/settlement-service/pkg/paymentgateway"
	"github.com/ticketmarket/settlement-service/pkg/rabbitmq"
)

// PaymentVerifier asks the payment processor for the recorded state of a reference.
type PaymentVerifier interface {
	VerifyTransaction(ctx context.Context, reference string) (*paymentgateway.Verification, error)
}

// RateLimiter counts checkout attempts per buyer email and per client address.
type RateLimiter interface {
	ConsumePurchaseAttempt(ctx context.Context, email string, clientIP string, limit int, window time.Duration) (PurchaseThrottle, error)
}

// Options carries the tunables the service reads from configuration.
type Options struct {
	EventsExchange             string
	DefaultPlatformFeePercent  int
	AmountToleranceKobo        int64
	SettlementCurrency         string
	ReservationStaleAfter      time.Duration
	PurchaseRateLimitPerMinute int
}

// Service provides the core business logic for purchases, settlement and payouts.
type Service struct {
	repo          store.Repository
	gateway       PaymentVerifier
	eventProducer rabbitmq.Publisher
	opts          Options

	rateLimiter RateLimiter
	metrics     *metrics.SettlementMetrics

	notifications sync.WaitGroup
	now           func() time.Time
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, gateway PaymentVerifier, producer rabbitmq.Publisher, opts Options) *Service {
	if strings.TrimSpace(opts.EventsExchange) == "" {
		opts.EventsExchange = "tickets.events"
	}
	if opts.DefaultPlatformFeePercent < 0 || opts.DefaultPlatformFeePercent > 100 {
		opts.DefaultPlatformFeePercent = DefaultPlatformFeePercent
	}
	if opts.AmountToleranceKobo < 0 {
		opts.AmountToleranceKobo = 0
	}
	opts.SettlementCurrency = strings.ToUpper(strings.TrimSpace(opts.SettlementCurrency))
	if opts.SettlementCurrency == "" {
		opts.SettlementCurrency = "NGN"
	}
	if opts.ReservationStaleAfter <= 0 {
		opts.ReservationStaleAfter = 15 * time.Minute
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}

	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		opts:          opts,
		now:           time.Now,
	}
}

// SetRateLimiter enables purchase rate limiting.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// SetMetrics attaches Prometheus instruments.
func (s *Service) SetMetrics(m *metrics.SettlementMetrics) {
	s.metrics = m
}

// WaitForNotifications blocks until in-flight event publishes finish or ctx is done.
func (s *Service) WaitForNotifications(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("level=warn component=service msg=\"shutdown before notifications drained\"")
	}
}

// detached returns a context for cleanup writes that must run even if the request
// context was cancelled.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
