package enums

// FailureReason qualifies a FAILED payment outcome. The reconciler uses it to
// decide whether a cancellation needs a compensating refund: funds failures
// never debited anything, so there is nothing to give back.
type FailureReason string

const (
	FailureReasonNone              FailureReason = ""
	FailureReasonInsufficientFunds FailureReason = "insufficient_funds"
	FailureReasonUnknownUser       FailureReason = "unknown_user"
	FailureReasonOrderCancelled    FailureReason = "order_cancelled"
)

// String implements fmt.Stringer.
func (f FailureReason) String() string {
	return string(f)
}

// RequiresCompensation reports whether a cancellation with this reason must
// trigger a refund of an already-applied debit.
func (f FailureReason) RequiresCompensation() bool {
	switch f {
	case FailureReasonInsufficientFunds, FailureReasonUnknownUser:
		return false
	default:
		return true
	}
}
