package main

import (
	gen "github.com/whyrusleeping/cbor-gen"

	token "github.com/vestlabs/vesting-actors/actors/builtin/token"
	vesting "github.com/vestlabs/vesting-actors/actors/builtin/vesting"
)

func main() {
	if err := gen.WriteTupleEncodersToFile("./actors/builtin/vesting/cbor_gen.go", "vesting",
		// actor state
		vesting.State{},
		vesting.VestingSchedule{},
		// method params
		vesting.ConstructorParams{},
		vesting.ScheduleParams{},
		vesting.CreateVestingSchedulesParams{},
		vesting.ReleaseParams{},
		vesting.WithdrawParams{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/token/cbor_gen.go", "token",
		// external token actor call contract
		token.TransferParams{},
		token.BalanceOfParams{},
	); err != nil {
		panic(err)
	}
}
