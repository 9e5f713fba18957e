package withdrawal

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/bytom/peggateway/common"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from    uint8
		event   Event
		want    uint8
		wantErr error
	}{
		{from: common.WithdrawalPendingStatus, event: ShareApplied, want: common.WithdrawalPartiallySignedStatus},
		{from: common.WithdrawalPendingStatus, event: ThresholdReached, want: common.WithdrawalSignedStatus},
		{from: common.WithdrawalPendingStatus, event: BroadcastAccepted, want: common.WithdrawalPendingStatus, wantErr: ErrInvalidTransition},
		{from: common.WithdrawalPendingStatus, event: Invalid, want: common.WithdrawalRejectedStatus},
		{from: common.WithdrawalPartiallySignedStatus, event: ShareApplied, want: common.WithdrawalPartiallySignedStatus},
		{from: common.WithdrawalPartiallySignedStatus, event: ThresholdReached, want: common.WithdrawalSignedStatus},
		{from: common.WithdrawalPartiallySignedStatus, event: BroadcastRejected, want: common.WithdrawalPartiallySignedStatus, wantErr: ErrInvalidTransition},
		{from: common.WithdrawalSignedStatus, event: ShareApplied, want: common.WithdrawalSignedStatus, wantErr: ErrInvalidTransition},
		{from: common.WithdrawalSignedStatus, event: BroadcastAccepted, want: common.WithdrawalBroadcastStatus},
		{from: common.WithdrawalSignedStatus, event: BroadcastRejected, want: common.WithdrawalSignedStatus},
		{from: common.WithdrawalSignedStatus, event: Invalid, want: common.WithdrawalSignedStatus, wantErr: ErrInvalidTransition},
		{from: common.WithdrawalBroadcastStatus, event: BroadcastAccepted, want: common.WithdrawalBroadcastStatus, wantErr: ErrInvalidTransition},
		{from: common.WithdrawalBroadcastStatus, event: Invalid, want: common.WithdrawalBroadcastStatus, wantErr: ErrInvalidTransition},
		{from: common.WithdrawalRejectedStatus, event: ShareApplied, want: common.WithdrawalRejectedStatus, wantErr: ErrInvalidTransition},
		{from: common.WithdrawalRejectedStatus, event: ThresholdReached, want: common.WithdrawalRejectedStatus, wantErr: ErrInvalidTransition},
		{from: 99, event: ShareApplied, want: 99, wantErr: ErrInvalidTransition},
	}

	for i, c := range cases {
		got, err := Transition(c.from, c.event)
		require.Equal(t, c.wantErr, errors.Cause(err), "case %d", i)
		require.Equal(t, c.want, got, "case %d", i)
	}
}

func TestTransitionTotal(t *testing.T) {
	statuses := []uint8{
		common.WithdrawalPendingStatus,
		common.WithdrawalPartiallySignedStatus,
		common.WithdrawalSignedStatus,
		common.WithdrawalBroadcastStatus,
		common.WithdrawalRejectedStatus,
	}
	events := []Event{ShareApplied, ThresholdReached, BroadcastAccepted, BroadcastRejected, Invalid}

	for _, status := range statuses {
		for _, event := range events {
			next, err := Transition(status, event)
			if err != nil {
				require.Equal(t, status, next)
				continue
			}

			if status == common.WithdrawalBroadcastStatus || status == common.WithdrawalRejectedStatus {
				t.Fatalf("terminal status %d moved on %s", status, event)
			}

			// once signed, the only way out is an accepted broadcast
			if status == common.WithdrawalSignedStatus && next != common.WithdrawalSignedStatus && next != common.WithdrawalBroadcastStatus {
				t.Fatalf("signed withdrawal moved to %d on %s", next, event)
			}
		}
	}
}
