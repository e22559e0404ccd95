package raffle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRaffleNotFound   = errors.New("raffle not found")
	ErrPurchaseNotFound = errors.New("purchase not found")

	// ErrInvalidStateTransition is the base for every precondition failure
	// that would move a raffle out of a state the operation does not accept.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	ErrRaffleNotActive    = fmt.Errorf("%w: raffle is not active", ErrInvalidStateTransition)
	ErrRaffleNotCompleted = fmt.Errorf("%w: raffle is not completed", ErrInvalidStateTransition)
	ErrRaffleNotReady     = fmt.Errorf("%w: raffle is not pending transfer", ErrInvalidStateTransition)
	ErrAlreadyDrawn       = fmt.Errorf("%w: winner already drawn", ErrInvalidStateTransition)
	ErrAlreadyPaid        = fmt.Errorf("%w: raffle already paid out", ErrInvalidStateTransition)

	ErrInvalidTicketCount    = errors.New("ticket count must be positive")
	ErrPaymentTypeMismatch   = errors.New("payment type does not match raffle rail")
	ErrSoldOut               = errors.New("not enough tickets remaining")
	ErrInsufficientFunds     = errors.New("payer balance cannot cover purchase")
	ErrContention            = errors.New("too many concurrent purchases, retry")
	ErrGatewayFailure        = errors.New("payment gateway failure")
	ErrNoParticipants        = errors.New("raffle has no participants")
	ErrRandomnessUnavailable = errors.New("randomness source unavailable")
	ErrFractionalNotAllowed  = errors.New("fractional settlement not approved for raffle")
)

// TransferFailedError reports the payout leg that could not be sent. Legs
// already sent stay sent; a retry resends only the remainder.
type TransferFailedError struct {
	Role string
	Err  error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer failed for %s leg: %v", e.Role, e.Err)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}

// RefundFailure identifies one purchase whose refund did not go through
// during cancellation fan-out.
type RefundFailure struct {
	PurchaseID string
	Err        error
}

// RefundErrors aggregates fan-out failures; the remaining refunds completed
// and a repeat cancellation retries only the listed purchases.
type RefundErrors []RefundFailure

func (e RefundErrors) Error() string {
	ids := make([]string, len(e))
	for i, failure := range e {
		ids[i] = failure.PurchaseID
	}
	return fmt.Sprintf("refund failed for %d purchase(s): %s", len(e), strings.Join(ids, ", "))
}
