package common

const (
	PegInIssuedStatus uint8 = iota
	PegInFundedStatus
	PegInClaimedStatus
)

const (
	PegInIssuedStatusLabel  = "issued"
	PegInFundedStatusLabel  = "funded"
	PegInClaimedStatusLabel = "claimed"
)

const (
	WithdrawalPendingStatus uint8 = iota
	WithdrawalPartiallySignedStatus
	WithdrawalSignedStatus
	WithdrawalBroadcastStatus
	WithdrawalRejectedStatus
)

const (
	WithdrawalPendingStatusLabel         = "pending"
	WithdrawalPartiallySignedStatusLabel = "partially_signed"
	WithdrawalSignedStatusLabel          = "signed"
	WithdrawalBroadcastStatusLabel       = "broadcast"
	WithdrawalRejectedStatusLabel        = "rejected"
)

// SatoshiPerCoin is the number of base units in one mainchain coin.
const SatoshiPerCoin = 100000000
