package fraud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phishnet/phishnet/internal/logging"
	"github.com/phishnet/phishnet/internal/metrics"
	"github.com/phishnet/phishnet/internal/traces"
)

// Outbound message templates. These are the user-visible surface of the
// whole engine; every failure path ends in one of them, never a raw error.
const (
	msgAlert = "Fraud Alert: A recent purchase from %s in %s for $%.2f has been flagged as potential fraud. Reply YES to confirm, or NO to deny."

	msgConfirmed = "Thanks! The transaction for $%.2f at %s in %s has been marked as %s."

	msgNoActiveAlert = "No recent fraud alert found for your number."

	msgUsage = "Please reply YES or NO to verify the transaction. To enable travel mode, reply 'travel - your location'."

	msgTravelEnabled  = "Travel mode enabled for %s. Reply 'stop travel' to disable it anytime."
	msgTravelDisabled = "Travel mode disabled. Fraud detection is now back to normal sensitivity."

	msgTryAgain = "Something went wrong. Please try again later."
)

const travelPrefix = "travel -"

// Reply is the plain-text response returned to the SMS transport.
type Reply struct {
	Text string
}

// Interpreter parses inbound reply text and performs the resulting state
// change: a travel-mode command, a fraud verdict, or nothing.
type Interpreter struct {
	txns       TransactionStore
	users      UserStore
	correlator *Correlator
	travel     *TravelController
	events     EventSink
}

// NewInterpreter creates a response interpreter.
func NewInterpreter(txns TransactionStore, users UserStore, correlator *Correlator, travel *TravelController, events EventSink) *Interpreter {
	if events == nil {
		events = noopEvents{}
	}
	return &Interpreter{
		txns:       txns,
		users:      users,
		correlator: correlator,
		travel:     travel,
		events:     events,
	}
}

// Interpret handles one inbound SMS from the given sender. The returned
// reply is always usable as-is; errors never escape to the transport.
func (i *Interpreter) Interpret(ctx context.Context, from, body string) Reply {
	ctx, span := traces.StartSpan(ctx, "fraud.interpret")
	defer span.End()

	text := strings.ToLower(strings.TrimSpace(body))
	log := logging.L(ctx).With("from", from)
	log.Info("sms reply received", "body", text)

	switch {
	case strings.HasPrefix(text, travelPrefix):
		metrics.SMSRepliesTotal.WithLabelValues("travel_on").Inc()
		return i.enableTravel(ctx, from, strings.TrimPrefix(text, travelPrefix))

	case text == "stop travel":
		metrics.SMSRepliesTotal.WithLabelValues("travel_off").Inc()
		return i.disableTravel(ctx, from)

	case text == "yes" || text == "fraud":
		metrics.SMSRepliesTotal.WithLabelValues("confirm").Inc()
		return i.resolve(ctx, from, StatusConfirmedFraud)

	case text == "no" || text == "not fraud":
		metrics.SMSRepliesTotal.WithLabelValues("deny").Inc()
		return i.resolve(ctx, from, StatusConfirmedLegitimate)

	default:
		metrics.SMSRepliesTotal.WithLabelValues("unknown").Inc()
		return Reply{Text: msgUsage}
	}
}

func (i *Interpreter) enableTravel(ctx context.Context, from, location string) Reply {
	if strings.TrimSpace(location) == "" {
		// "travel -" with no location is a format mistake, not a failure.
		return Reply{Text: msgUsage}
	}

	user, err := i.users.GetByPhone(ctx, from)
	if err != nil {
		logging.L(ctx).Warn("travel command from unknown phone", "from", from, "error", err)
		return Reply{Text: msgTryAgain}
	}

	loc, err := i.travel.Enable(ctx, user.ID, location)
	if err != nil {
		logging.L(ctx).Error("failed to enable travel mode", "user_id", user.ID, "error", err)
		return Reply{Text: msgTryAgain}
	}
	return Reply{Text: fmt.Sprintf(msgTravelEnabled, loc)}
}

func (i *Interpreter) disableTravel(ctx context.Context, from string) Reply {
	user, err := i.users.GetByPhone(ctx, from)
	if err != nil {
		logging.L(ctx).Warn("travel command from unknown phone", "from", from, "error", err)
		return Reply{Text: msgTryAgain}
	}

	if err := i.travel.Disable(ctx, user.ID); err != nil {
		logging.L(ctx).Error("failed to disable travel mode", "user_id", user.ID, "error", err)
		return Reply{Text: msgTryAgain}
	}
	return Reply{Text: msgTravelDisabled}
}

// resolve routes the verdict to the outstanding alert. The claim is the
// arbiter for duplicate and racing replies: the entry is deleted
// atomically before the status moves, so the second of two concurrent
// replies loses the claim and is told there is no active alert.
func (i *Interpreter) resolve(ctx context.Context, from string, verdict Status) Reply {
	log := logging.L(ctx).With("from", from)

	txnID, err := i.correlator.FindResolvable(ctx, from)
	if errors.Is(err, ErrNotFound) {
		log.Info("reply without outstanding alert")
		return Reply{Text: msgNoActiveAlert}
	}
	if err != nil {
		log.Error("failed to look up alert", "error", err)
		return Reply{Text: msgTryAgain}
	}

	if err := i.correlator.Claim(ctx, from, txnID); err != nil {
		if errors.Is(err, ErrAlertClaimed) {
			log.Info("alert claimed by concurrent reply", "transaction_id", txnID)
			return Reply{Text: msgNoActiveAlert}
		}
		log.Error("failed to claim alert", "transaction_id", txnID, "error", err)
		return Reply{Text: msgTryAgain}
	}

	err = i.txns.TransitionStatus(ctx, txnID, StatusAwaitingConfirmation, verdict)
	if errors.Is(err, ErrStatusConflict) {
		// Already terminal: a crash between a previous status write and
		// entry delete left the entry behind. The claim above cleaned it
		// up; nothing more to mutate.
		log.Warn("transaction already resolved", "transaction_id", txnID)
		return Reply{Text: msgNoActiveAlert}
	}
	if err != nil {
		log.Error("failed to update transaction status", "transaction_id", txnID, "error", err)
		return Reply{Text: msgTryAgain}
	}

	metrics.ResolutionsTotal.WithLabelValues(verdictLabel(verdict)).Inc()
	i.events.FraudResolved(txnID, verdict)
	log.Info("transaction resolved", "transaction_id", txnID, "verdict", verdict)

	txn, err := i.txns.Get(ctx, txnID)
	if err != nil {
		// Resolution already happened; only the courtesy detail is missing.
		log.Warn("failed to fetch resolved transaction detail", "transaction_id", txnID, "error", err)
		return Reply{Text: msgTryAgain}
	}

	return Reply{Text: fmt.Sprintf(msgConfirmed, txn.Amount, txn.Merchant, txn.Location, strings.ToUpper(verdictLabel(verdict)))}
}

// verdictLabel renders a terminal status the way the cardholder sees it.
func verdictLabel(s Status) string {
	if s == StatusConfirmedFraud {
		return "fraud"
	}
	return "not fraud"
}
