package common

import (
	"github.com/pkg/errors"
)

var (
	errUnknownPegInStatus      = errors.New("unknown peg-in address status")
	errUnknownWithdrawalStatus = errors.New("unknown withdrawal status")
)

func PegInStatus2Str(status uint8) (string, error) {
	switch status {
	case PegInIssuedStatus:
		return PegInIssuedStatusLabel, nil
	case PegInFundedStatus:
		return PegInFundedStatusLabel, nil
	case PegInClaimedStatus:
		return PegInClaimedStatusLabel, nil
	default:
		return "", errUnknownPegInStatus
	}
}

func WithdrawalStatus2Str(status uint8) (string, error) {
	switch status {
	case WithdrawalPendingStatus:
		return WithdrawalPendingStatusLabel, nil
	case WithdrawalPartiallySignedStatus:
		return WithdrawalPartiallySignedStatusLabel, nil
	case WithdrawalSignedStatus:
		return WithdrawalSignedStatusLabel, nil
	case WithdrawalBroadcastStatus:
		return WithdrawalBroadcastStatusLabel, nil
	case WithdrawalRejectedStatus:
		return WithdrawalRejectedStatusLabel, nil
	default:
		return "", errUnknownWithdrawalStatus
	}
}
