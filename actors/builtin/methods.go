package builtin

import (
	abi "github.com/filecoin-project/go-state-types/abi"
)

const (
	MethodSend        = abi.MethodNum(0)
	MethodConstructor = abi.MethodNum(1)
)

type vestingMethods struct {
	Constructor                    abi.MethodNum
	CreateVestingSchedule          abi.MethodNum
	CreateVestingSchedules         abi.MethodNum
	Release                        abi.MethodNum
	Withdraw                       abi.MethodNum
	GetToken                       abi.MethodNum
	GetVestingSchedulesCount       abi.MethodNum
	GetVestingSchedule             abi.MethodNum
	GetVestingSchedulesTotalAmount abi.MethodNum
	GetWithdrawableAmount          abi.MethodNum
}

var MethodsVesting = vestingMethods{MethodConstructor, 2, 3, 4, 5, 6, 7, 8, 9, 10}

// Call contract of the external token actor holding the funds the vesting
// actor administers. The token actor itself is not part of this repo.
type tokenMethods struct {
	Constructor abi.MethodNum
	Transfer    abi.MethodNum
	BalanceOf   abi.MethodNum
}

var MethodsToken = tokenMethods{MethodConstructor, 2, 3}
