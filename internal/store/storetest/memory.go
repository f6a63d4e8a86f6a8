// Package storetest provides an in-memory store.Repository for service and handler tests.
// Every method runs under one mutex, which gives each call the same all-or-nothing
// behaviour the PostgreSQL transactions provide.
package storetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

type reservation struct {
	eventID      uuid.UUID
	status       string
	claimToken   uuid.UUID
	ticketSaleID *uuid.UUID
	updatedAt    time.Time
}

// MemoryRepository implements store.Repository on maps.
type MemoryRepository struct {
	mu sync.Mutex

	events       map[uuid.UUID]*domain.Event
	wallets      map[string]*domain.WalletBalance
	reservations map[string]*reservation
	sales        map[uuid.UUID]*domain.TicketSale
	salesByRef   map[string]uuid.UUID
	walletTxs    []domain.WalletTransaction
	withdrawals  map[uuid.UUID]*domain.WithdrawalRequest
	flags        map[uuid.UUID]*domain.ReconciliationFlag

	failStage     string
	failErr       error
	commitFailErr error

	// Now is the clock used for timestamps and reservation staleness.
	Now func() time.Time
}

var _ store.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository holding a zero platform wallet.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events:       make(map[uuid.UUID]*domain.Event),
		wallets:      map[string]*domain.WalletBalance{domain.PlatformWalletOwnerID: {OwnerID: domain.PlatformWalletOwnerID}},
		reservations: make(map[string]*reservation),
		sales:        make(map[uuid.UUID]*domain.TicketSale),
		salesByRef:   make(map[string]uuid.UUID),
		withdrawals:  make(map[uuid.UUID]*domain.WithdrawalRequest),
		flags:        make(map[uuid.UUID]*domain.ReconciliationFlag),
		Now:          time.Now,
	}
}

// AddEvent stores an event and its ticket catalog.
func (m *MemoryRepository) AddEvent(event domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.Now()
	}
	m.events[event.ID] = &event
}

// Event returns a copy of the stored event.
func (m *MemoryRepository) Event(id uuid.UUID) (domain.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return domain.Event{}, false
	}
	return *event, true
}

// SetWallet overwrites a wallet's balance and total earned.
func (m *MemoryRepository) SetWallet(ownerID string, balance, totalEarned int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[ownerID] = &domain.WalletBalance{OwnerID: ownerID, Balance: balance, TotalEarned: totalEarned, UpdatedAt: m.Now()}
}

// WalletTransactions returns the append-only audit log.
func (m *MemoryRepository) WalletTransactions() []domain.WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WalletTransaction(nil), m.walletTxs...)
}

// TicketSales returns every recorded sale, success and failed.
func (m *MemoryRepository) TicketSales() []domain.TicketSale {
	m.mu.Lock()
	defer m.mu.Unlock()
	sales := make([]domain.TicketSale, 0, len(m.sales))
	for _, sale := range m.sales {
		sales = append(sales, *sale)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.Before(sales[j].CreatedAt) })
	return sales
}

// ReservationStatus reports the guard state for a reference.
func (m *MemoryRepository) ReservationStatus(reference string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reference]
	if !ok {
		return "", false
	}
	return res.status, true
}

// AgeReservation moves a reservation's last update into the past.
func (m *MemoryRepository) AgeReservation(reference string, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.reservations[reference]; ok {
		res.updatedAt = res.updatedAt.Add(-by)
	}
}

// FailSettlementAt makes the next SettleTicketSale fail at stage with err. Nothing is
// applied, matching a rolled back transaction.
func (m *MemoryRepository) FailSettlementAt(stage string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStage = stage
	m.failErr = err
}

// FailCommitAfterApply makes the next SettleTicketSale apply every write and then
// report a commit failure, the ambiguous outcome of a connection lost during COMMIT.
func (m *MemoryRepository) FailCommitAfterApply(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitFailErr = err
}

func (m *MemoryRepository) FindEventByID(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok {
		return nil, store.ErrEventNotFound
	}
	copied := *event
	copied.TicketTypes = append([]domain.TicketType(nil), event.TicketTypes...)
	return &copied, nil
}

func (m *MemoryRepository) ReservePaymentReference(ctx context.Context, reference string, eventID uuid.UUID, staleAfter time.Duration) (*domain.ReservationOutcome, error) {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	existing, ok := m.reservations[reference]
	if !ok {
		token := uuid.New()
		m.reservations[reference] = &reservation{eventID: eventID, status: domain.ReservationStatusProcessing, claimToken: token, updatedAt: now}
		return &domain.ReservationOutcome{Acquired: true, ClaimToken: token}, nil
	}

	switch existing.status {
	case domain.ReservationStatusCompleted:
		return &domain.ReservationOutcome{AlreadyProcessed: true, TicketSaleID: existing.ticketSaleID}, nil
	case domain.ReservationStatusFlagged:
		return nil, store.ErrSettlementUnderReview
	}
	if existing.updatedAt.After(now.Add(-staleAfter)) {
		return nil, store.ErrPurchaseInProgress
	}

	existing.eventID = eventID
	existing.claimToken = uuid.New()
	existing.updatedAt = now
	return &domain.ReservationOutcome{Acquired: true, ClaimToken: existing.claimToken}, nil
}

func (m *MemoryRepository) ReleasePaymentReservation(ctx context.Context, reference string, claimToken uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.reservations[reference]; ok && res.status == domain.ReservationStatusProcessing && res.claimToken == claimToken {
		delete(m.reservations, reference)
	}
	return nil
}

func (m *MemoryRepository) ReleaseStalePaymentReservations(ctx context.Context, staleAfter time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	olderThan := m.Now().Add(-staleAfter)
	var released int64
	for ref, res := range m.reservations {
		if res.status == domain.ReservationStatusProcessing && res.updatedAt.Before(olderThan) {
			delete(m.reservations, ref)
			released++
		}
	}
	return released, nil
}

func (m *MemoryRepository) SettleTicketSale(ctx context.Context, settlement domain.Settlement) (*domain.TicketSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failStage != "" {
		stage, err := m.failStage, m.failErr
		m.failStage, m.failErr = "", nil
		return nil, &store.SettlementError{Stage: stage, Mutated: stageMutates(stage), Err: err}
	}

	sale := settlement.Sale
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}
	sale.Status = domain.TicketSaleStatusSuccess
	sale.Used = false
	sale.UsedAt = nil
	sale.CreatedAt = m.Now()

	res, ok := m.reservations[sale.Reference]
	if !ok || res.status != domain.ReservationStatusProcessing || res.claimToken != settlement.ClaimToken {
		return nil, &store.SettlementError{Stage: store.SettlementStageReservation, Err: store.ErrReservationLost}
	}
	event, ok := m.events[sale.EventID]
	if !ok {
		return nil, &store.SettlementError{Stage: store.SettlementStageEventAggregate, Err: store.ErrEventNotFound}
	}
	if _, exists := m.salesByRef[sale.Reference]; exists {
		return nil, &store.SettlementError{Stage: store.SettlementStageTicketSale, Mutated: true, Err: errors.New("duplicate ticket sale reference")}
	}

	saleID := sale.ID
	res.status = domain.ReservationStatusCompleted
	res.ticketSaleID = &saleID
	res.updatedAt = sale.CreatedAt

	event.TicketsSold += int64(sale.Quantity)
	event.Revenue += sale.TotalAmount

	m.creditLocked(domain.PlatformWalletOwnerID, sale.PlatformFee)
	m.creditLocked(settlement.OrganizerID, sale.OrganizerAmount)

	eventID := sale.EventID
	m.walletTxs = append(m.walletTxs, domain.WalletTransaction{
		ID:                uuid.New(),
		OrganizerID:       settlement.OrganizerID,
		EventID:           &eventID,
		Reference:         sale.Reference,
		PlatformFeeAmount: sale.PlatformFee,
		OrganizerAmount:   sale.OrganizerAmount,
		Type:              domain.WalletTransactionTypeTicketSale,
		CreatedAt:         sale.CreatedAt,
	})

	stored := sale
	m.sales[sale.ID] = &stored
	m.salesByRef[sale.Reference] = sale.ID

	if m.commitFailErr != nil {
		err := m.commitFailErr
		m.commitFailErr = nil
		return nil, &store.SettlementError{Stage: store.SettlementStageCommit, Mutated: true, Err: err}
	}
	return &sale, nil
}

func stageMutates(stage string) bool {
	switch stage {
	case store.SettlementStageBegin, store.SettlementStageReservation, store.SettlementStageEventAggregate:
		return false
	}
	return true
}

func (m *MemoryRepository) creditLocked(ownerID string, amount int64) {
	wallet, ok := m.wallets[ownerID]
	if !ok {
		wallet = &domain.WalletBalance{OwnerID: ownerID}
		m.wallets[ownerID] = wallet
	}
	wallet.Balance += amount
	wallet.TotalEarned += amount
	wallet.UpdatedAt = m.Now()
}

func (m *MemoryRepository) FlagSettlementForReconciliation(ctx context.Context, sale domain.TicketSale, stage string, cause string) (*domain.ReconciliationFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	saleID, exists := m.salesByRef[sale.Reference]
	if !exists {
		if sale.ID == uuid.Nil {
			sale.ID = uuid.New()
		}
		sale.Status = domain.TicketSaleStatusFailed
		sale.Used = false
		sale.CreatedAt = now
		stored := sale
		m.sales[sale.ID] = &stored
		m.salesByRef[sale.Reference] = sale.ID
		saleID = sale.ID
	}

	res, ok := m.reservations[sale.Reference]
	if !ok {
		res = &reservation{eventID: sale.EventID, claimToken: uuid.New()}
		m.reservations[sale.Reference] = res
	}
	res.status = domain.ReservationStatusFlagged
	res.ticketSaleID = &saleID
	res.updatedAt = now

	flag := &domain.ReconciliationFlag{
		ID:           uuid.New(),
		Reference:    sale.Reference,
		EventID:      &sale.EventID,
		TicketSaleID: &saleID,
		Stage:        stage,
		ErrorMessage: cause,
		CreatedAt:    now,
	}
	m.flags[flag.ID] = flag
	copied := *flag
	return &copied, nil
}

func (m *MemoryRepository) ListOpenReconciliationFlags(ctx context.Context, limit int) ([]domain.ReconciliationFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags := make([]domain.ReconciliationFlag, 0)
	for _, flag := range m.flags {
		if flag.ResolvedAt == nil {
			flags = append(flags, *flag)
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].CreatedAt.Before(flags[j].CreatedAt) })
	if limit > 0 && len(flags) > limit {
		flags = flags[:limit]
	}
	return flags, nil
}

func (m *MemoryRepository) CountOpenReconciliationFlags(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, flag := range m.flags {
		if flag.ResolvedAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) ResolveReconciliationFlag(ctx context.Context, flagID uuid.UUID) (*domain.ReconciliationFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, ok := m.flags[flagID]
	if !ok {
		return nil, store.ErrReconciliationFlagNotFound
	}
	if flag.ResolvedAt != nil {
		return nil, store.ErrReconciliationFlagResolved
	}

	now := m.Now()
	if flag.IsPayout() {
		resolution := domain.ReconciliationResolutionAcknowledged
		flag.Resolution = &resolution
		flag.ResolvedAt = &now
		copied := *flag
		return &copied, nil
	}

	settled := false
	for _, tx := range m.walletTxs {
		if tx.Reference == flag.Reference && tx.Type == domain.WalletTransactionTypeTicketSale {
			settled = true
			break
		}
	}

	resolution := domain.ReconciliationResolutionReleased
	if settled {
		resolution = domain.ReconciliationResolutionConfirmed
		saleID := m.salesByRef[flag.Reference]
		if res, ok := m.reservations[flag.Reference]; ok {
			res.status = domain.ReservationStatusCompleted
			res.ticketSaleID = &saleID
			res.updatedAt = now
		}
	} else {
		if saleID, ok := m.salesByRef[flag.Reference]; ok && m.sales[saleID].Status == domain.TicketSaleStatusFailed {
			delete(m.sales, saleID)
			delete(m.salesByRef, flag.Reference)
		}
		delete(m.reservations, flag.Reference)
	}

	flag.Resolution = &resolution
	flag.ResolvedAt = &now
	copied := *flag
	return &copied, nil
}

func (m *MemoryRepository) FindTicketSaleByID(ctx context.Context, ticketID uuid.UUID) (*domain.TicketSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[ticketID]
	if !ok {
		return nil, store.ErrTicketSaleNotFound
	}
	copied := *sale
	return &copied, nil
}

func (m *MemoryRepository) FindTicketSaleByReference(ctx context.Context, reference string) (*domain.TicketSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.salesByRef[reference]
	if !ok {
		return nil, store.ErrTicketSaleNotFound
	}
	copied := *m.sales[id]
	return &copied, nil
}

func (m *MemoryRepository) MarkTicketUsed(ctx context.Context, ticketID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[ticketID]
	if !ok {
		return store.ErrTicketSaleNotFound
	}
	if sale.Status != domain.TicketSaleStatusSuccess {
		return store.ErrTicketInvalid
	}
	if sale.Used {
		return store.ErrTicketAlreadyUsed
	}
	now := m.Now()
	sale.Used = true
	sale.UsedAt = &now
	return nil
}

func (m *MemoryRepository) FindWalletByOwnerID(ctx context.Context, ownerID string) (*domain.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet, ok := m.wallets[ownerID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	copied := *wallet
	return &copied, nil
}

func (m *MemoryRepository) CreateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet, ok := m.wallets[req.OwnerID]
	if !ok {
		return store.ErrWalletNotFound
	}
	if req.Amount > wallet.Balance {
		return store.ErrInsufficientFunds
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := m.Now()
	req.Status = domain.WithdrawalStatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	stored := *req
	m.withdrawals[req.ID] = &stored
	return nil
}

func (m *MemoryRepository) PayWithdrawalRequest(ctx context.Context, withdrawalID uuid.UUID, payoutReference string) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[withdrawalID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	if req.Status != domain.WithdrawalStatusPending {
		copied := *req
		return &copied, store.ErrWithdrawalAlreadyFinalized
	}
	wallet, ok := m.wallets[req.OwnerID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	if req.Amount > wallet.Balance {
		copied := *req
		return &copied, store.ErrInsufficientFunds
	}

	now := m.Now()
	wallet.Balance -= req.Amount
	wallet.UpdatedAt = now
	req.Status = domain.WithdrawalStatusPaid
	ref := payoutReference
	req.Reference = &ref
	req.UpdatedAt = now

	platformAmount, organizerAmount := int64(0), req.Amount
	if req.OwnerID == domain.PlatformWalletOwnerID {
		platformAmount, organizerAmount = req.Amount, 0
	}
	m.walletTxs = append(m.walletTxs, domain.WalletTransaction{
		ID:                uuid.New(),
		OrganizerID:       req.OwnerID,
		EventID:           req.EventID,
		Reference:         payoutReference,
		PlatformFeeAmount: platformAmount,
		OrganizerAmount:   organizerAmount,
		Type:              domain.WalletTransactionTypeWithdrawal,
		CreatedAt:         now,
	})

	copied := *req
	return &copied, nil
}

func (m *MemoryRepository) RejectWithdrawalRequest(ctx context.Context, withdrawalID uuid.UUID, reason string) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[withdrawalID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	if req.Status != domain.WithdrawalStatusPending {
		copied := *req
		return &copied, store.ErrWithdrawalAlreadyFinalized
	}
	r := reason
	req.Status = domain.WithdrawalStatusRejected
	req.RejectionReason = &r
	req.UpdatedAt = m.Now()
	copied := *req
	return &copied, nil
}

func (m *MemoryRepository) FlagPayoutForReconciliation(ctx context.Context, withdrawalID uuid.UUID, payoutReference string, cause string) (*domain.ReconciliationFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[withdrawalID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	for _, flag := range m.flags {
		if flag.ResolvedAt == nil && flag.WithdrawalID != nil && *flag.WithdrawalID == withdrawalID {
			copied := *flag
			return &copied, nil
		}
	}

	id := withdrawalID
	var eventID *uuid.UUID
	if req.EventID != nil {
		e := *req.EventID
		eventID = &e
	}
	flag := &domain.ReconciliationFlag{
		ID:           uuid.New(),
		Reference:    payoutReference,
		EventID:      eventID,
		WithdrawalID: &id,
		Stage:        domain.ReconciliationStagePayout,
		ErrorMessage: cause,
		CreatedAt:    m.Now(),
	}
	m.flags[flag.ID] = flag
	copied := *flag
	return &copied, nil
}

func (m *MemoryRepository) FindWithdrawalRequestByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.withdrawals[withdrawalID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	copied := *req
	return &copied, nil
}

func (m *MemoryRepository) ListWithdrawalRequestsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]domain.WithdrawalRequest, 0)
	for _, req := range m.withdrawals {
		if req.OwnerID == ownerID {
			requests = append(requests, *req)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	if limit > 0 && len(requests) > limit {
		requests = requests[:limit]
	}
	return requests, nil
}
