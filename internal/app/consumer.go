package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

// PayoutStatusConsumer applies payout provider results to withdrawal requests.
type PayoutStatusConsumer struct {
	service *Service
}

func NewPayoutStatusConsumer(service *Service) *PayoutStatusConsumer {
	return &PayoutStatusConsumer{service: service}
}

// HandleMessage returns false only when the delivery should be redelivered.
func (c *PayoutStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.PayoutStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("payout-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	withdrawalID, err := uuid.Parse(strings.TrimSpace(event.WithdrawalID))
	if err != nil {
		log.Printf("payout-consumer: invalid withdrawal id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, withdrawalID, event); err != nil {
		log.Printf("payout-consumer: processing error for withdrawal %s: %v", withdrawalID, err)
		return false
	}
	return true
}

func (c *PayoutStatusConsumer) processEvent(ctx context.Context, withdrawalID uuid.UUID, event domain.PayoutStatusEvent) error {
	var err error
	switch strings.ToLower(strings.TrimSpace(event.Status)) {
	case "successful", "success", "completed", "paid":
		_, err = c.service.PayWithdrawal(ctx, withdrawalID, event.Reference)
	case "failed", "reversed", "rejected":
		reason := strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = "payout failed"
		}
		_, err = c.service.RejectWithdrawal(ctx, withdrawalID, reason)
	default:
		log.Printf("payout-consumer: ignoring status %q for withdrawal %s", event.Status, withdrawalID)
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrWithdrawalAlreadyFinalized):
		log.Printf("payout-consumer: withdrawal %s already finalized; acknowledging", withdrawalID)
		return nil
	case errors.Is(err, store.ErrWithdrawalNotFound):
		log.Printf("payout-consumer: no withdrawal %s; acknowledging", withdrawalID)
		return nil
	case errors.Is(err, store.ErrInsufficientFunds), errors.Is(err, ErrInvalidPayoutReference):
		// The money has already left; redelivery cannot fix the ledger, an operator must.
		if _, flagErr := c.service.FlagUnappliedPayout(ctx, withdrawalID, event.Reference, err); flagErr != nil {
			return flagErr
		}
		return nil
	default:
		return fmt.Errorf("apply payout status: %w", err)
	}
}
