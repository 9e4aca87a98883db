package vesting

import (
	addr "github.com/filecoin-project/go-address"
	abi "github.com/filecoin-project/go-state-types/abi"
	big "github.com/filecoin-project/go-state-types/big"
	exitcode "github.com/filecoin-project/go-state-types/exitcode"
	cbg "github.com/whyrusleeping/cbor-gen"

	builtin "github.com/vestlabs/vesting-actors/actors/builtin"
	token "github.com/vestlabs/vesting-actors/actors/builtin/token"
	vmr "github.com/vestlabs/vesting-actors/actors/runtime"
)

// Vesting actor exit codes.
const (
	// A schedule already exists for the beneficiary.
	ErrDuplicateSchedule = exitcode.FirstActorSpecificExitCode + iota
	// The schedule has already been released.
	ErrAlreadyReleased
	// The schedule's cliff has not elapsed yet.
	ErrVestingNotElapsed
	// The committed total exceeds the actor's token holdings. Fatal: the books
	// no longer cover the promises.
	ErrBalanceInvariantBroken
)

type Actor struct{}

func (a Actor) Exports() []interface{} {
	return []interface{}{
		builtin.MethodConstructor: a.Constructor,
		2:                         a.CreateVestingSchedule,
		3:                         a.CreateVestingSchedules,
		4:                         a.Release,
		5:                         a.Withdraw,
		6:                         a.GetToken,
		7:                         a.GetVestingSchedulesCount,
		8:                         a.GetVestingSchedule,
		9:                         a.GetVestingSchedulesTotalAmount,
		10:                        a.GetWithdrawableAmount,
	}
}

var _ vmr.Invokee = Actor{}

type ConstructorParams struct {
	Token addr.Address
}

// The deployer becomes the owner (administrator) of the ledger.
func (a Actor) Constructor(rt vmr.Runtime, params *ConstructorParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()

	builtin.RequireParam(rt, params.Token != addr.Undef, "token address is undefined")

	st := ConstructState(rt.Message().Caller(), params.Token)
	rt.State().Create(st)
	return nil
}

type ScheduleParams struct {
	Beneficiary addr.Address
	Start       abi.ChainEpoch
	Amount      abi.TokenAmount
}

func (a Actor) CreateVestingSchedule(rt vmr.Runtime, params *ScheduleParams) *abi.EmptyValue {
	var st State
	rt.State().Readonly(&st)
	rt.ValidateImmediateCallerIs(st.Owner)

	balance := balanceOf(rt, st.Token, rt.Message().Receiver())

	rt.State().Transaction(&st, func() {
		err := st.AllocateSchedule(*params, balance)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to create vesting schedule for %v", params.Beneficiary)
	})
	return nil
}

type CreateVestingSchedulesParams struct {
	Schedules []ScheduleParams
}

// Creates a batch of schedules as one unit of work: a failure on any entry
// aborts the message and no entry survives.
func (a Actor) CreateVestingSchedules(rt vmr.Runtime, params *CreateVestingSchedulesParams) *abi.EmptyValue {
	var st State
	rt.State().Readonly(&st)
	rt.ValidateImmediateCallerIs(st.Owner)

	balance := balanceOf(rt, st.Token, rt.Message().Receiver())

	rt.State().Transaction(&st, func() {
		for _, sched := range params.Schedules {
			// The committed total grows with each entry, so the funds check on
			// a later entry accounts for the earlier ones.
			err := st.AllocateSchedule(sched, balance)
			builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to create vesting schedule for %v", sched.Beneficiary)
		}
	})
	return nil
}

type ReleaseParams struct {
	Beneficiary addr.Address
}

// Releases a matured schedule, transferring its full amount to the beneficiary.
// Callable by the schedule's beneficiary, or by the owner on their behalf.
func (a Actor) Release(rt vmr.Runtime, params *ReleaseParams) *abi.EmptyValue {
	var st State
	rt.State().Readonly(&st)
	rt.ValidateImmediateCallerIs(st.Owner, params.Beneficiary)

	var amount abi.TokenAmount
	rt.State().Transaction(&st, func() {
		var err error
		amount, err = st.MarkReleased(params.Beneficiary, rt.CurrEpoch())
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to release vesting schedule for %v", params.Beneficiary)
	})

	// Funds move only after the books record the release, so a reentrant token
	// actor observes the schedule as already released.
	transferTokens(rt, st.Token, params.Beneficiary, amount)
	return nil
}

type WithdrawParams struct {
	Amount abi.TokenAmount
}

// Moves uncommitted funds out to the owner. Funds promised to unreleased
// schedules are not reachable here.
func (a Actor) Withdraw(rt vmr.Runtime, params *WithdrawParams) *abi.EmptyValue {
	var st State
	rt.State().Readonly(&st)
	rt.ValidateImmediateCallerIs(st.Owner)

	if params.Amount.LessThan(big.Zero()) {
		rt.Abortf(exitcode.ErrIllegalArgument, "negative withdrawal %s", params.Amount)
	}

	balance := balanceOf(rt, st.Token, rt.Message().Receiver())
	available, err := st.UncommittedBalance(balance)
	builtin.RequireNoErr(rt, err, ErrBalanceInvariantBroken, "vesting ledger over-committed")
	if params.Amount.GreaterThan(available) {
		rt.Abortf(exitcode.ErrInsufficientFunds, "withdrawal %s exceeds withdrawable %s", params.Amount, available)
	}

	transferTokens(rt, st.Token, st.Owner, params.Amount)
	return nil
}

func (a Actor) GetToken(rt vmr.Runtime, _ *abi.EmptyValue) *addr.Address {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.State().Readonly(&st)
	return &st.Token
}

func (a Actor) GetVestingSchedulesCount(rt vmr.Runtime, _ *abi.EmptyValue) *cbg.CborInt {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.State().Readonly(&st)
	count := cbg.CborInt(len(st.Schedules))
	return &count
}

// Returns the beneficiary's schedule, or a zero record if none exists.
// This is a read-only lookup, not an existence check.
func (a Actor) GetVestingSchedule(rt vmr.Runtime, beneficiary *addr.Address) *VestingSchedule {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.State().Readonly(&st)

	sched, found := st.FindSchedule(*beneficiary)
	if !found {
		// Echo the queried address so the zero record serializes; undefined
		// addresses cannot be marshaled.
		return &VestingSchedule{Beneficiary: *beneficiary, Amount: big.Zero()}
	}
	ret := *sched
	return &ret
}

func (a Actor) GetVestingSchedulesTotalAmount(rt vmr.Runtime, _ *abi.EmptyValue) *abi.TokenAmount {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.State().Readonly(&st)
	total := st.TotalCommitted
	return &total
}

func (a Actor) GetWithdrawableAmount(rt vmr.Runtime, _ *abi.EmptyValue) *abi.TokenAmount {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.State().Readonly(&st)

	balance := balanceOf(rt, st.Token, rt.Message().Receiver())
	available, err := st.UncommittedBalance(balance)
	builtin.RequireNoErr(rt, err, ErrBalanceInvariantBroken, "vesting ledger over-committed")
	return &available
}

func balanceOf(rt vmr.Runtime, tokenAddr addr.Address, holder addr.Address) abi.TokenAmount {
	ret, code := rt.Send(tokenAddr, builtin.MethodsToken.BalanceOf, &token.BalanceOfParams{Address: holder}, big.Zero())
	builtin.RequireSuccess(rt, code, "failed to query token balance of %v", holder)

	var balance abi.TokenAmount
	err := ret.Into(&balance)
	builtin.RequireNoErr(rt, err, exitcode.ErrSerialization, "failed to deserialize token balance")
	return balance
}

func transferTokens(rt vmr.Runtime, tokenAddr addr.Address, to addr.Address, amount abi.TokenAmount) {
	_, code := rt.Send(tokenAddr, builtin.MethodsToken.Transfer, &token.TransferParams{To: to, Amount: amount}, big.Zero())
	builtin.RequireSuccess(rt, code, "failed to transfer %s to %v", amount, to)
}
