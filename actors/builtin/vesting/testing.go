package vesting

import (
	"github.com/filecoin-project/go-address"
	abi "github.com/filecoin-project/go-state-types/abi"
	big "github.com/filecoin-project/go-state-types/big"

	builtin "github.com/vestlabs/vesting-actors/actors/builtin"
)

type StateSummary struct {
	ScheduleCount  int
	ReleasedCount  int
	TotalCommitted abi.TokenAmount
}

// Checks internal invariants of vesting actor state.
func CheckStateInvariants(st *State) (*StateSummary, *builtin.MessageAccumulator) {
	acc := &builtin.MessageAccumulator{}

	acc.Require(st.Owner != address.Undef, "owner address is undefined")
	acc.Require(st.Token != address.Undef, "token address is undefined")

	seen := make(map[address.Address]struct{}, len(st.Schedules))
	released := 0
	committed := big.Zero()
	for i, sched := range st.Schedules {
		acc.Require(sched.Beneficiary != address.Undef, "schedule %d has undefined beneficiary", i)
		acc.Require(sched.Amount.GreaterThan(big.Zero()), "schedule %d for %v has non-positive amount %s", i, sched.Beneficiary, sched.Amount)
		acc.Require(sched.Start >= 0, "schedule %d for %v has negative start epoch %d", i, sched.Beneficiary, sched.Start)

		_, dup := seen[sched.Beneficiary]
		acc.Require(!dup, "duplicate schedule for beneficiary %v", sched.Beneficiary)
		seen[sched.Beneficiary] = struct{}{}

		if sched.Released {
			released++
		} else {
			committed = big.Add(committed, sched.Amount)
		}
	}

	acc.Require(st.TotalCommitted.Equals(committed),
		"committed total %s does not equal sum of unreleased schedule amounts %s", st.TotalCommitted, committed)
	acc.Require(st.TotalCommitted.GreaterThanEqual(big.Zero()), "committed total %s is negative", st.TotalCommitted)

	return &StateSummary{
		ScheduleCount:  len(st.Schedules),
		ReleasedCount:  released,
		TotalCommitted: st.TotalCommitted,
	}, acc
}
