package withdrawal

import (
	"github.com/pkg/errors"

	"github.com/bytom/peggateway/common"
)

// Event is something that happened to a withdrawal.
type Event uint8

const (
	// ShareApplied: a signer's signatures were added. No side effect.
	ShareApplied Event = iota
	// ThresholdReached: enough distinct signers, the tx gets finalized.
	ThresholdReached
	// BroadcastAccepted: the node took the tx. Inputs are spent and change
	// is recorded.
	BroadcastAccepted
	// BroadcastRejected: the node refused the tx. The signed tx stays valid
	// elsewhere, so inputs stay reserved and nothing is refunded.
	BroadcastRejected
	// Invalid: no valid tx can come out of the request. Inputs are released
	// and the account is refunded.
	Invalid
)

var eventLabels = map[Event]string{
	ShareApplied:      "share_applied",
	ThresholdReached:  "threshold_reached",
	BroadcastAccepted: "broadcast_accepted",
	BroadcastRejected: "broadcast_rejected",
	Invalid:           "invalid",
}

func (e Event) String() string {
	if label, ok := eventLabels[e]; ok {
		return label
	}
	return "unknown"
}

type transitionKey struct {
	from  uint8
	event Event
}

var transitions = map[transitionKey]uint8{
	{common.WithdrawalPendingStatus, ShareApplied}:             common.WithdrawalPartiallySignedStatus,
	{common.WithdrawalPendingStatus, ThresholdReached}:         common.WithdrawalSignedStatus,
	{common.WithdrawalPendingStatus, Invalid}:                  common.WithdrawalRejectedStatus,
	{common.WithdrawalPartiallySignedStatus, ShareApplied}:     common.WithdrawalPartiallySignedStatus,
	{common.WithdrawalPartiallySignedStatus, ThresholdReached}: common.WithdrawalSignedStatus,
	{common.WithdrawalPartiallySignedStatus, Invalid}:          common.WithdrawalRejectedStatus,
	{common.WithdrawalSignedStatus, BroadcastAccepted}:         common.WithdrawalBroadcastStatus,
	{common.WithdrawalSignedStatus, BroadcastRejected}:         common.WithdrawalSignedStatus,
}

// Transition is defined for every (status, event) pair. Pairs missing from
// the table, including every event on Broadcast and Rejected and Invalid on
// Signed, keep the status and fail with ErrInvalidTransition.
func Transition(status uint8, event Event) (uint8, error) {
	if next, ok := transitions[transitionKey{status, event}]; ok {
		return next, nil
	}

	label, err := common.WithdrawalStatus2Str(status)
	if err != nil {
		label = "unknown"
	}
	return status, errors.Wrapf(ErrInvalidTransition, "%s on %s", event, label)
}
