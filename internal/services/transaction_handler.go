package services

import (
	"context"

	"billing-api/internal/billing"
	"billing-api/pkg/logging"
)

// TransactionHandler is the shared handling path for verified transactions.
// Both coordinators route synchronous purchase results and async stream
// updates through one instance so the dedup tracker guards every caller.
type TransactionHandler struct {
	tracker *ProcessedTransactionTracker
	ledger  *CreditLedger
	client  billing.Client
	syncer  ProfileSyncer
	events  *EventBus
}

// NewTransactionHandler creates the shared handler.
func NewTransactionHandler(tracker *ProcessedTransactionTracker, ledger *CreditLedger, client billing.Client, syncer ProfileSyncer, events *EventBus) *TransactionHandler {
	return &TransactionHandler{
		tracker: tracker,
		ledger:  ledger,
		client:  client,
		syncer:  syncer,
		events:  events,
	}
}

// Handle processes one transaction envelope:
//
//	dedupe -> resolve credits from the catalog -> credit the ledger ->
//	push remote sync -> finish -> emit outcome.
//
// The transaction is finished after crediting, never before: acknowledging
// first would suppress redelivery and lose the grant if the process died in
// between. A sync failure is logged and neither rolls back the ledger nor
// blocks the acknowledgement.
//
// failureKind may be empty for stream-delivered transactions, where an
// unverified envelope is logged but not surfaced to the UI.
func (h *TransactionHandler) Handle(ctx context.Context, vr billing.VerificationResult, source string, successKind, failureKind OutcomeKind) error {
	tx := vr.Transaction

	if !vr.Verified {
		logging.Warnf("handleTransaction: unverified transaction id=%s reason=%s", tx.ID, vr.Reason)
		h.finish(ctx, tx.ID)
		if failureKind != "" {
			h.events.Publish(Outcome{
				Kind:      failureKind,
				ProductID: tx.ProductID,
				Message:   "Purchase could not be verified.",
			})
		}
		return nil
	}

	if !h.tracker.TryMarkProcessed(tx.ID) {
		logging.Warnf("handleTransaction: transaction already processed id=%s", tx.ID)
		h.finish(ctx, tx.ID)
		return nil
	}

	product, ok := billing.Lookup(tx.ProductID)
	if !ok {
		// Crediting an unrecognized product would be worse than not
		// crediting; drop it but still stop redelivery.
		logging.Warnf("handleTransaction: unknown product id=%s transaction_id=%s", tx.ProductID, tx.ID)
		h.finish(ctx, tx.ID)
		return nil
	}

	credits := product.GrantCredits()
	if credits > 0 {
		if err := h.ledger.Increase(credits, source, tx.ID, tx.ProductID); err != nil {
			logging.Errorf("handleTransaction: failed to credit ledger: %v", err)
			// Leave the transaction unfinished and unmark it so the
			// platform's redelivery re-credits instead of being dropped as
			// a duplicate.
			h.tracker.Unmark(tx.ID)
			return err
		}
	}

	if err := h.syncer.Push(ctx, h.ledger.Snapshot()); err != nil {
		logging.Errorf("handleTransaction: profile sync failed (local state kept): %v", err)
	}

	h.finish(ctx, tx.ID)

	current, _ := h.ledger.Balance()
	logging.Infof("purchaseSuccess: product_id=%s credits=%d transaction_id=%s total=%d", tx.ProductID, credits, tx.ID, current)
	h.events.Publish(Outcome{
		Kind:      successKind,
		ProductID: tx.ProductID,
		Credits:   credits,
	})
	return nil
}

func (h *TransactionHandler) finish(ctx context.Context, transactionID string) {
	if err := h.client.Finish(ctx, transactionID); err != nil {
		logging.Errorf("handleTransaction: failed to finish transaction id=%s: %v", transactionID, err)
	}
}
