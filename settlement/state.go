package settlement

import (
	x402 "github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/ledger"
)

// State is a step of the settlement state machine.
type State int

const (
	StateAwaitingPayment State = iota
	StatePayloadReceived
	StateVerified
	StateRecipientChecked
	StateDuplicateChecked
	StateSettled
	StateRecorded
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAwaitingPayment:
		return "awaiting_payment"
	case StatePayloadReceived:
		return "payload_received"
	case StateVerified:
		return "verified"
	case StateRecipientChecked:
		return "recipient_checked"
	case StateDuplicateChecked:
		return "duplicate_checked"
	case StateSettled:
		return "settled"
	case StateRecorded:
		return "recorded"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is where one request ended up.
type Outcome struct {
	State State

	// Requirement is set whenever it could be built, including for challenges
	// and most rejections.
	Requirement x402.PaymentRequirement

	// Reason is the stable code of a rejection.
	Reason x402.ErrorCode

	Payer      string
	Settlement *x402.SettlementResponse
	Record     *ledger.Record
}

// Challenged reports whether the caller must retry with payment evidence.
func (o *Outcome) Challenged() bool {
	return o.State == StateAwaitingPayment
}

// TransactionHash returns the settlement transaction, which may be empty even
// for a recorded payment.
func (o *Outcome) TransactionHash() string {
	if o.Settlement == nil {
		return ""
	}
	return o.Settlement.Transaction
}
