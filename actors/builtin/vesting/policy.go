package vesting

import (
	abi "github.com/filecoin-project/go-state-types/abi"

	builtin "github.com/vestlabs/vesting-actors/actors/builtin"
)

// The period after a schedule's start before its amount becomes releasable.
// Vesting is cliff shaped: nothing is releasable before the cliff elapses and
// the full amount is releasable at and after it.
const VestingDuration = abi.ChainEpoch(270 * builtin.EpochsInDay)
