package vesting

import (
	addr "github.com/filecoin-project/go-address"
	abi "github.com/filecoin-project/go-state-types/abi"
	big "github.com/filecoin-project/go-state-types/big"
	exitcode "github.com/filecoin-project/go-state-types/exitcode"
	errors "github.com/pkg/errors"
)

type State struct {
	// The administrator: the only identity allowed to create schedules and withdraw
	// uncommitted funds. Set at construction, never changed.
	Owner addr.Address

	// The token actor custodying the funds this ledger administers.
	Token addr.Address

	// Ordered registry of schedules, one per beneficiary, append-only.
	// Rows are never deleted; a released row stays, marked released.
	Schedules []VestingSchedule

	// Sum of Amount over all unreleased schedules.
	TotalCommitted abi.TokenAmount
}

// One beneficiary's vesting allotment. Amount and Start are fixed at creation;
// only Released ever changes, false to true exactly once.
type VestingSchedule struct {
	Beneficiary addr.Address
	Start       abi.ChainEpoch
	Amount      abi.TokenAmount
	Released    bool
}

func ConstructState(owner addr.Address, tokenAddr addr.Address) *State {
	return &State{
		Owner:          owner,
		Token:          tokenAddr,
		Schedules:      nil,
		TotalCommitted: big.Zero(),
	}
}

// FindSchedule returns a pointer into the registry for a beneficiary's schedule,
// or false if none exists.
func (st *State) FindSchedule(beneficiary addr.Address) (*VestingSchedule, bool) {
	for i := range st.Schedules {
		if st.Schedules[i].Beneficiary == beneficiary {
			return &st.Schedules[i], true
		}
	}
	return nil, false
}

// UncommittedBalance is the portion of the actor's token holdings not promised to
// any unreleased schedule. A negative difference means the books no longer cover
// the promises, which a correctly operating ledger can never reach.
func (st *State) UncommittedBalance(tokenBalance abi.TokenAmount) (abi.TokenAmount, error) {
	available := big.Sub(tokenBalance, st.TotalCommitted)
	if available.LessThan(big.Zero()) {
		return big.Zero(), errors.Errorf("committed total %s exceeds token balance %s", st.TotalCommitted, tokenBalance)
	}
	return available, nil
}

// AllocateSchedule appends a new schedule and commits its amount, enforcing the
// creation preconditions against the supplied token balance. The error carries
// the exit code for the precondition that failed.
func (st *State) AllocateSchedule(params ScheduleParams, tokenBalance abi.TokenAmount) error {
	if params.Beneficiary == addr.Undef {
		return exitcode.ErrIllegalArgument.Wrapf("beneficiary address is undefined")
	}
	if params.Amount.LessThanEqual(big.Zero()) {
		return exitcode.ErrIllegalArgument.Wrapf("schedule amount %s must be positive", params.Amount)
	}
	if params.Start < 0 {
		return exitcode.ErrIllegalArgument.Wrapf("negative start epoch %d", params.Start)
	}
	if _, found := st.FindSchedule(params.Beneficiary); found {
		return ErrDuplicateSchedule.Wrapf("vesting schedule already exists for %v", params.Beneficiary)
	}

	available, err := st.UncommittedBalance(tokenBalance)
	if err != nil {
		return ErrBalanceInvariantBroken.Wrapf("balance invariant broken: %w", err)
	}
	if params.Amount.GreaterThan(available) {
		return exitcode.ErrInsufficientFunds.Wrapf("schedule amount %s exceeds withdrawable %s", params.Amount, available)
	}

	st.Schedules = append(st.Schedules, VestingSchedule{
		Beneficiary: params.Beneficiary,
		Start:       params.Start,
		Amount:      params.Amount,
		Released:    false,
	})
	st.TotalCommitted = big.Add(st.TotalCommitted, params.Amount)
	return nil
}

// MarkReleased records the release of a beneficiary's schedule, returning the
// amount that must then be transferred out. The committed total is reduced here,
// before any funds move.
func (st *State) MarkReleased(beneficiary addr.Address, currEpoch abi.ChainEpoch) (abi.TokenAmount, error) {
	sched, found := st.FindSchedule(beneficiary)
	if !found {
		return big.Zero(), exitcode.ErrNotFound.Wrapf("no vesting schedule for %v", beneficiary)
	}
	if sched.Released {
		return big.Zero(), ErrAlreadyReleased.Wrapf("vesting schedule for %v already released", beneficiary)
	}
	if matureAt := sched.Start + VestingDuration; currEpoch < matureAt {
		return big.Zero(), ErrVestingNotElapsed.Wrapf("vesting for %v matures at epoch %d, current epoch %d", beneficiary, matureAt, currEpoch)
	}

	sched.Released = true
	st.TotalCommitted = big.Sub(st.TotalCommitted, sched.Amount)
	return sched.Amount, nil
}
