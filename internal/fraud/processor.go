package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phishnet/phishnet/internal/logging"
	"github.com/phishnet/phishnet/internal/metrics"
	"github.com/phishnet/phishnet/internal/retry"
	"github.com/phishnet/phishnet/internal/traces"
)

// Outcome classifies how a scoring invocation ended, so the queue layer
// knows whether to ack or redeliver.
type Outcome int

const (
	// OutcomeOK: processed to completion.
	OutcomeOK Outcome = iota
	// OutcomeSkip: the event can never succeed (malformed body, missing
	// record, no phone number). Acked and logged, never retried.
	OutcomeSkip
	// OutcomeRetry: a downstream store or channel failed. Nacked so the
	// queue redelivers the event.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkip:
		return "skip"
	default:
		return "retry"
	}
}

// ScoringRequest is the queue message that triggers scoring. The full
// transaction and user records are fetched by ID.
type ScoringRequest struct {
	TransactionID string `json:"transactionId"`
}

// EventSink receives fraud lifecycle events for live observers. The
// realtime hub implements it; a no-op sink is used when streaming is off.
type EventSink interface {
	FraudFlagged(tx *Transaction, ruleScore float64)
	FraudResolved(transactionID string, verdict Status)
}

type noopEvents struct{}

func (noopEvents) FraudFlagged(*Transaction, float64) {}
func (noopEvents) FraudResolved(string, Status)       {}

// Processor handles one scoring request per invocation: fetch records,
// evaluate, and on a flag move the transaction to AwaitingConfirmation,
// alert the cardholder, and record the correlation entry.
type Processor struct {
	txns       TransactionStore
	users      UserStore
	engine     *Engine
	correlator *Correlator
	notifier   Notifier
	events     EventSink

	sendAttempts int
	sendBackoff  time.Duration
}

// NewProcessor creates a scoring processor.
func NewProcessor(txns TransactionStore, users UserStore, engine *Engine, correlator *Correlator, notifier Notifier, events EventSink) *Processor {
	if events == nil {
		events = noopEvents{}
	}
	return &Processor{
		txns:         txns,
		users:        users,
		engine:       engine,
		correlator:   correlator,
		notifier:     notifier,
		events:       events,
		sendAttempts: 3,
		sendBackoff:  500 * time.Millisecond,
	}
}

// HandleMessage decodes a raw queue message and processes it. A body that
// does not parse is skipped, never retried; redelivering it cannot help.
func (p *Processor) HandleMessage(ctx context.Context, body []byte) Outcome {
	var req ScoringRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logging.L(ctx).Warn("dropping malformed scoring request", "error", err)
		return OutcomeSkip
	}
	return p.ProcessScoringRequest(ctx, req)
}

// ProcessScoringRequest runs the full scoring flow for one transaction.
// Delivery is at-least-once: a redelivered request finds the transaction
// no longer Pending and no-ops.
func (p *Processor) ProcessScoringRequest(ctx context.Context, req ScoringRequest) Outcome {
	ctx, span := traces.StartSpan(ctx, "fraud.score")
	defer span.End()

	outcome := p.process(ctx, req)
	metrics.TransactionsScoredTotal.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (p *Processor) process(ctx context.Context, req ScoringRequest) Outcome {
	log := logging.L(ctx).With("transaction_id", req.TransactionID)

	if req.TransactionID == "" {
		log.Warn("scoring request without transaction id")
		return OutcomeSkip
	}

	tx, err := p.txns.Get(ctx, req.TransactionID)
	if errors.Is(err, ErrNotFound) {
		// The ID will never resolve; retrying is pointless.
		log.Warn("transaction not found, skipping")
		return OutcomeSkip
	}
	if err != nil {
		log.Error("failed to fetch transaction", "error", err)
		return OutcomeRetry
	}

	if tx.Status != StatusPending {
		log.Info("transaction already scored, skipping redelivery", "status", tx.Status)
		return OutcomeOK
	}

	user, err := p.users.Get(ctx, tx.UserID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("user not found, skipping", "user_id", tx.UserID)
		return OutcomeSkip
	}
	if err != nil {
		log.Error("failed to fetch user", "user_id", tx.UserID, "error", err)
		return OutcomeRetry
	}
	if user.Phone == "" {
		log.Warn("user has no phone number, skipping alert", "user_id", user.ID)
		return OutcomeSkip
	}

	flagged, ruleScore := p.engine.Evaluate(ctx, tx, user)
	log.Info("transaction scored", "rule_score", ruleScore, "flagged", flagged)
	if !flagged {
		return OutcomeOK
	}

	// Gate the transition on the current status so a stale redelivery
	// cannot overwrite a terminal verdict.
	err = p.txns.TransitionStatus(ctx, tx.ID, StatusPending, StatusAwaitingConfirmation)
	if errors.Is(err, ErrStatusConflict) {
		log.Info("transaction advanced concurrently, skipping alert")
		return OutcomeOK
	}
	if err != nil {
		log.Error("failed to transition status", "error", err)
		return OutcomeRetry
	}

	if outcome := p.dispatchAlert(ctx, tx, user); outcome != OutcomeOK {
		return outcome
	}

	p.events.FraudFlagged(tx, ruleScore)
	return OutcomeOK
}

// dispatchAlert sends the SMS and records the correlation entry. The send
// is retried with backoff; once it has gone out, a failed entry write is
// surfaced as a reconciliation warning rather than redelivered, because a
// redelivery would text the cardholder again.
func (p *Processor) dispatchAlert(ctx context.Context, tx *Transaction, user *UserProfile) Outcome {
	log := logging.L(ctx).With("transaction_id", tx.ID)

	body := fmt.Sprintf(msgAlert, tx.Merchant, tx.Location, tx.Amount)
	err := retry.Do(ctx, p.sendAttempts, p.sendBackoff, func() error {
		return p.notifier.Send(ctx, user.Phone, body)
	})
	if err != nil {
		metrics.AlertsSentTotal.WithLabelValues("error").Inc()
		log.Error("failed to send fraud alert", "error", err)
		// Hand the transaction back in a re-dispatchable state: the
		// redelivery checks for Pending, so leaving AwaitingConfirmation
		// behind would ack it as already scored and the alert would never
		// go out. ErrStatusConflict here means a reply raced us; the
		// verdict stands.
		revertErr := p.txns.TransitionStatus(ctx, tx.ID, StatusAwaitingConfirmation, StatusPending)
		if revertErr != nil && !errors.Is(revertErr, ErrStatusConflict) {
			log.Error("failed to revert status for redelivery", "error", revertErr)
		}
		return OutcomeRetry
	}
	metrics.AlertsSentTotal.WithLabelValues("ok").Inc()
	log.Info("fraud alert sent", "phone", user.Phone)

	if err := p.correlator.Record(ctx, user.Phone, tx.ID, time.Now().UTC()); err != nil {
		// Alert went out but the reply cannot be routed. Needs operator
		// reconciliation, not redelivery.
		log.Error("alert sent but correlation entry write failed, reply routing broken", "error", err)
		return OutcomeOK
	}

	return OutcomeOK
}
