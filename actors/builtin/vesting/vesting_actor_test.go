package vesting_test

import (
	"bytes"
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	abi "github.com/filecoin-project/go-state-types/abi"
	big "github.com/filecoin-project/go-state-types/big"
	exitcode "github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/vestlabs/vesting-actors/actors/builtin"
	"github.com/vestlabs/vesting-actors/actors/builtin/token"
	"github.com/vestlabs/vesting-actors/actors/builtin/vesting"
	"github.com/vestlabs/vesting-actors/support/mock"
)

func TestConstruction(t *testing.T) {
	receiver := newIDAddr(t, 100)
	owner := newIDAddr(t, 101)
	tokenActor := newIDAddr(t, 102)

	actor := vesting.Actor{}
	builder := mock.NewBuilder(context.Background(), receiver).WithCaller(owner)

	t.Run("simple construction", func(t *testing.T) {
		rt := builder.Build(t)

		rt.ExpectValidateCallerAny()
		ret := rt.Call(actor.Constructor, &vesting.ConstructorParams{Token: tokenActor})
		assert.Nil(t, ret)
		rt.Verify()

		var st vesting.State
		rt.GetState(&st)
		assert.Equal(t, owner, st.Owner)
		assert.Equal(t, tokenActor, st.Token)
		assert.Empty(t, st.Schedules)
		assert.Equal(t, big.Zero(), st.TotalCommitted)
	})

	t.Run("rejects undefined token address", func(t *testing.T) {
		rt := builder.Build(t)

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(actor.Constructor, &vesting.ConstructorParams{Token: addr.Undef})
		})
	})
}

func TestCreateVestingSchedule(t *testing.T) {
	startEpoch := abi.ChainEpoch(10)

	t.Run("creates a schedule and commits its amount", func(t *testing.T) {
		h, rt := setupActor(t)

		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		var st vesting.State
		rt.GetState(&st)
		require.Len(t, st.Schedules, 1)
		assert.Equal(t, vesting.VestingSchedule{
			Beneficiary: h.anne,
			Start:       startEpoch,
			Amount:      abi.NewTokenAmount(100),
			Released:    false,
		}, st.Schedules[0])
		assert.Equal(t, abi.NewTokenAmount(100), st.TotalCommitted)
		h.checkState(rt)
	})

	t.Run("fails for non-owner caller", func(t *testing.T) {
		h, rt := setupActor(t)

		rt.SetCaller(h.anne)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			rt.Call(h.CreateVestingSchedule, &vesting.ScheduleParams{Beneficiary: h.anne, Start: startEpoch, Amount: abi.NewTokenAmount(100)})
		})
		h.assertScheduleCount(rt, 0)
	})

	t.Run("fails for non-positive amount", func(t *testing.T) {
		h, rt := setupActor(t)

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.CreateVestingSchedule, &vesting.ScheduleParams{Beneficiary: h.anne, Start: startEpoch, Amount: big.Zero()})
		})
		rt.Verify()
		h.assertScheduleCount(rt, 0)
	})

	t.Run("second schedule for same beneficiary fails regardless of arguments", func(t *testing.T) {
		h, rt := setupActor(t)

		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.ExpectAbort(vesting.ErrDuplicateSchedule, func() {
			rt.Call(h.CreateVestingSchedule, &vesting.ScheduleParams{Beneficiary: h.anne, Start: startEpoch + 5, Amount: abi.NewTokenAmount(1)})
		})
		rt.Verify()
		h.assertScheduleCount(rt, 1)
		h.checkState(rt)
	})

	t.Run("fails when amount exceeds withdrawable, leaving no schedule behind", func(t *testing.T) {
		h, rt := setupActor(t)

		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(600), abi.NewTokenAmount(1000))

		// 400 remains uncommitted; 500 must not fit.
		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.ExpectAbort(exitcode.ErrInsufficientFunds, func() {
			rt.Call(h.CreateVestingSchedule, &vesting.ScheduleParams{Beneficiary: h.bob, Start: startEpoch, Amount: abi.NewTokenAmount(500)})
		})
		rt.Verify()

		var st vesting.State
		rt.GetState(&st)
		require.Len(t, st.Schedules, 1)
		assert.Equal(t, abi.NewTokenAmount(600), st.TotalCommitted)
		h.checkState(rt)
	})
}

func TestCreateVestingSchedules(t *testing.T) {
	startEpoch := abi.ChainEpoch(10)

	t.Run("creates all schedules in order", func(t *testing.T) {
		h, rt := setupActor(t)

		batch := []vesting.ScheduleParams{
			{Beneficiary: h.anne, Start: startEpoch, Amount: abi.NewTokenAmount(100)},
			{Beneficiary: h.bob, Start: startEpoch, Amount: abi.NewTokenAmount(200)},
			{Beneficiary: h.chuck, Start: startEpoch + 30*builtin.EpochsInDay, Amount: abi.NewTokenAmount(300)},
		}

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.Call(h.CreateVestingSchedules, &vesting.CreateVestingSchedulesParams{Schedules: batch})
		rt.Verify()

		var st vesting.State
		rt.GetState(&st)
		require.Len(t, st.Schedules, 3)
		assert.Equal(t, h.anne, st.Schedules[0].Beneficiary)
		assert.Equal(t, h.bob, st.Schedules[1].Beneficiary)
		assert.Equal(t, h.chuck, st.Schedules[2].Beneficiary)
		assert.Equal(t, abi.NewTokenAmount(600), st.TotalCommitted)

		h.assertWithdrawable(rt, abi.NewTokenAmount(1000), abi.NewTokenAmount(400))
		h.assertScheduleCount(rt, 3)
		h.checkState(rt)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		h, rt := setupActor(t)

		// The balance is still queried before the (empty) transaction.
		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.Call(h.CreateVestingSchedules, &vesting.CreateVestingSchedulesParams{Schedules: nil})
		rt.Verify()

		h.assertScheduleCount(rt, 0)
		h.assertTotalCommitted(rt, big.Zero())
		h.checkState(rt)
	})

	t.Run("duplicate within batch aborts the whole batch", func(t *testing.T) {
		h, rt := setupActor(t)

		batch := []vesting.ScheduleParams{
			{Beneficiary: h.anne, Start: startEpoch, Amount: abi.NewTokenAmount(100)},
			{Beneficiary: h.anne, Start: startEpoch, Amount: abi.NewTokenAmount(200)},
		}

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.ExpectAbort(vesting.ErrDuplicateSchedule, func() {
			rt.Call(h.CreateVestingSchedules, &vesting.CreateVestingSchedulesParams{Schedules: batch})
		})
		rt.Verify()

		// No partial application survives.
		h.assertScheduleCount(rt, 0)
		h.assertTotalCommitted(rt, big.Zero())
	})

	t.Run("funds check accounts for earlier entries in the batch", func(t *testing.T) {
		h, rt := setupActor(t)

		// Each entry fits on its own, the pair does not.
		batch := []vesting.ScheduleParams{
			{Beneficiary: h.anne, Start: startEpoch, Amount: abi.NewTokenAmount(200)},
			{Beneficiary: h.bob, Start: startEpoch, Amount: abi.NewTokenAmount(200)},
		}

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(300))
		rt.ExpectAbort(exitcode.ErrInsufficientFunds, func() {
			rt.Call(h.CreateVestingSchedules, &vesting.CreateVestingSchedulesParams{Schedules: batch})
		})
		rt.Verify()

		h.assertScheduleCount(rt, 0)
		h.assertTotalCommitted(rt, big.Zero())
	})
}

func TestRelease(t *testing.T) {
	startEpoch := abi.ChainEpoch(10)

	t.Run("fails one epoch short of the cliff, succeeds at it", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		rt.SetEpoch(startEpoch + 269*builtin.EpochsInDay)
		rt.SetCaller(h.anne)
		rt.ExpectValidateCallerAddr(h.owner, h.anne)
		rt.ExpectAbort(vesting.ErrVestingNotElapsed, func() {
			rt.Call(h.Release, &vesting.ReleaseParams{Beneficiary: h.anne})
		})
		h.assertReleased(rt, h.anne, false)

		rt.SetEpoch(startEpoch + vesting.VestingDuration)
		h.release(rt, h.anne, h.anne, abi.NewTokenAmount(100))

		h.assertReleased(rt, h.anne, true)
		h.assertTotalCommitted(rt, big.Zero())
		h.checkState(rt)
	})

	t.Run("second release fails", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		rt.SetEpoch(startEpoch + vesting.VestingDuration)
		h.release(rt, h.anne, h.anne, abi.NewTokenAmount(100))

		rt.SetCaller(h.anne)
		rt.ExpectValidateCallerAddr(h.owner, h.anne)
		rt.ExpectAbort(vesting.ErrAlreadyReleased, func() {
			rt.Call(h.Release, &vesting.ReleaseParams{Beneficiary: h.anne})
		})
		h.checkState(rt)
	})

	t.Run("owner may release on the beneficiary's behalf", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		rt.SetEpoch(startEpoch + vesting.VestingDuration)
		h.release(rt, h.owner, h.anne, abi.NewTokenAmount(100))

		h.assertReleased(rt, h.anne, true)
		h.checkState(rt)
	})

	t.Run("stranger may not release regardless of time", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		rt.SetEpoch(startEpoch + 10*vesting.VestingDuration)
		rt.SetCaller(h.bob)
		rt.ExpectValidateCallerAddr(h.owner, h.anne)
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			rt.Call(h.Release, &vesting.ReleaseParams{Beneficiary: h.anne})
		})
		h.assertReleased(rt, h.anne, false)
	})

	t.Run("unknown beneficiary fails", func(t *testing.T) {
		h, rt := setupActor(t)

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner, h.anne)
		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(h.Release, &vesting.ReleaseParams{Beneficiary: h.anne})
		})
	})

	t.Run("failed transfer propagates and the release is unwound", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		rt.SetEpoch(startEpoch + vesting.VestingDuration)
		rt.SetCaller(h.anne)
		rt.ExpectValidateCallerAddr(h.owner, h.anne)
		rt.ExpectSend(h.token, builtin.MethodsToken.Transfer,
			&token.TransferParams{To: h.anne, Amount: abi.NewTokenAmount(100)},
			big.Zero(), nil, exitcode.ErrIllegalState)
		rt.ExpectAbort(exitcode.ErrIllegalState, func() {
			rt.Call(h.Release, &vesting.ReleaseParams{Beneficiary: h.anne})
		})
		rt.Verify()

		// The aborted message is rolled back: the schedule is still unreleased
		// and its amount still committed.
		h.assertReleased(rt, h.anne, false)
		h.assertTotalCommitted(rt, abi.NewTokenAmount(100))
		h.checkState(rt)
	})
}

func TestWithdraw(t *testing.T) {
	startEpoch := abi.ChainEpoch(10)

	t.Run("owner withdraws uncommitted funds", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(600), abi.NewTokenAmount(1000))

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.ExpectSend(h.token, builtin.MethodsToken.Transfer,
			&token.TransferParams{To: h.owner, Amount: abi.NewTokenAmount(400)},
			big.Zero(), nil, exitcode.Ok)
		rt.Call(h.Withdraw, &vesting.WithdrawParams{Amount: abi.NewTokenAmount(400)})
		rt.Verify()

		// Withdrawal does not touch the schedule table.
		h.assertScheduleCount(rt, 1)
		h.assertTotalCommitted(rt, abi.NewTokenAmount(600))
		h.checkState(rt)
	})

	t.Run("committed funds are not reachable", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(600), abi.NewTokenAmount(1000))

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		h.expectTokenBalance(rt, abi.NewTokenAmount(1000))
		rt.ExpectAbort(exitcode.ErrInsufficientFunds, func() {
			rt.Call(h.Withdraw, &vesting.WithdrawParams{Amount: abi.NewTokenAmount(401)})
		})
		rt.Verify()
	})

	t.Run("negative amount is rejected", func(t *testing.T) {
		h, rt := setupActor(t)

		rt.SetCaller(h.owner)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.Withdraw, &vesting.WithdrawParams{Amount: abi.NewTokenAmount(-1)})
		})
	})

	t.Run("non-owner may not withdraw", func(t *testing.T) {
		h, rt := setupActor(t)

		rt.SetCaller(h.anne)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			rt.Call(h.Withdraw, &vesting.WithdrawParams{Amount: abi.NewTokenAmount(1)})
		})
	})
}

func TestQueries(t *testing.T) {
	startEpoch := abi.ChainEpoch(10)

	t.Run("token address", func(t *testing.T) {
		h, rt := setupActor(t)

		rt.ExpectValidateCallerAny()
		ret := rt.Call(h.GetToken, nil).(*addr.Address)
		rt.Verify()
		assert.Equal(t, h.token, *ret)
	})

	t.Run("schedule lookup returns zero record for unknown beneficiary", func(t *testing.T) {
		h, rt := setupActor(t)

		rt.ExpectValidateCallerAny()
		ret := rt.Call(h.GetVestingSchedule, &h.anne).(*vesting.VestingSchedule)
		rt.Verify()
		assert.Equal(t, h.anne, ret.Beneficiary)
		assert.Equal(t, big.Zero(), ret.Amount)
		assert.False(t, ret.Released)

		// The zero record must survive serialization; a runtime marshals every
		// method return on the way out.
		var buf bytes.Buffer
		require.NoError(t, ret.MarshalCBOR(&buf))
		var decoded vesting.VestingSchedule
		require.NoError(t, decoded.UnmarshalCBOR(&buf))
		assert.Equal(t, *ret, decoded)
	})

	t.Run("schedule lookup returns the stored record", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		rt.ExpectValidateCallerAny()
		ret := rt.Call(h.GetVestingSchedule, &h.anne).(*vesting.VestingSchedule)
		rt.Verify()
		assert.Equal(t, vesting.VestingSchedule{
			Beneficiary: h.anne,
			Start:       startEpoch,
			Amount:      abi.NewTokenAmount(100),
			Released:    false,
		}, *ret)
	})

	t.Run("count and totals track creations and releases", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))
		h.createSchedule(rt, h.bob, startEpoch, abi.NewTokenAmount(200), abi.NewTokenAmount(1000))

		h.assertScheduleCount(rt, 2)
		h.assertTotalCommitted(rt, abi.NewTokenAmount(300))

		rt.SetEpoch(startEpoch + vesting.VestingDuration)
		h.release(rt, h.anne, h.anne, abi.NewTokenAmount(100))

		// Rows persist after release; only the committed total shrinks.
		h.assertScheduleCount(rt, 2)
		h.assertTotalCommitted(rt, abi.NewTokenAmount(200))
		h.checkState(rt)
	})

	t.Run("withdrawable amount is balance minus committed", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))
		h.createSchedule(rt, h.bob, startEpoch, abi.NewTokenAmount(200), abi.NewTokenAmount(1000))
		h.createSchedule(rt, h.chuck, startEpoch+30*builtin.EpochsInDay, abi.NewTokenAmount(300), abi.NewTokenAmount(1000))

		h.assertWithdrawable(rt, abi.NewTokenAmount(1000), abi.NewTokenAmount(400))
	})

	t.Run("over-committed ledger is a fatal consistency error", func(t *testing.T) {
		h, rt := setupActor(t)
		h.createSchedule(rt, h.anne, startEpoch, abi.NewTokenAmount(100), abi.NewTokenAmount(1000))

		// The custodian reports less than the ledger has promised.
		rt.ExpectValidateCallerAny()
		h.expectTokenBalance(rt, abi.NewTokenAmount(50))
		rt.ExpectAbort(vesting.ErrBalanceInvariantBroken, func() {
			rt.Call(h.GetWithdrawableAmount, nil)
		})
		rt.Verify()
	})
}

//
// Helper methods for calling vesting actor methods
//

type vestingHarness struct {
	vesting.Actor
	t testing.TB

	receiver addr.Address
	owner    addr.Address
	token    addr.Address
	anne     addr.Address
	bob      addr.Address
	chuck    addr.Address
}

func setupActor(t *testing.T) (*vestingHarness, *mock.Runtime) {
	h := &vestingHarness{
		t:        t,
		receiver: newIDAddr(t, 100),
		owner:    newIDAddr(t, 101),
		token:    newIDAddr(t, 102),
		anne:     newIDAddr(t, 103),
		bob:      newIDAddr(t, 104),
		chuck:    newIDAddr(t, 105),
	}

	rt := mock.NewBuilder(context.Background(), h.receiver).WithCaller(h.owner).Build(t)

	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.Constructor, &vesting.ConstructorParams{Token: h.token})
	assert.Nil(t, ret)
	rt.Verify()
	return h, rt
}

// Queues the balance query the actor performs against the token actor.
func (h *vestingHarness) expectTokenBalance(rt *mock.Runtime, balance abi.TokenAmount) {
	ret := balance
	rt.ExpectSend(h.token, builtin.MethodsToken.BalanceOf,
		&token.BalanceOfParams{Address: h.receiver}, big.Zero(), &ret, exitcode.Ok)
}

func (h *vestingHarness) createSchedule(rt *mock.Runtime, beneficiary addr.Address, start abi.ChainEpoch, amount, balance abi.TokenAmount) {
	rt.SetCaller(h.owner)
	rt.ExpectValidateCallerAddr(h.owner)
	h.expectTokenBalance(rt, balance)
	rt.Call(h.CreateVestingSchedule, &vesting.ScheduleParams{Beneficiary: beneficiary, Start: start, Amount: amount})
	rt.Verify()
}

func (h *vestingHarness) release(rt *mock.Runtime, caller, beneficiary addr.Address, amount abi.TokenAmount) {
	rt.SetCaller(caller)
	rt.ExpectValidateCallerAddr(h.owner, beneficiary)
	rt.ExpectSend(h.token, builtin.MethodsToken.Transfer,
		&token.TransferParams{To: beneficiary, Amount: amount}, big.Zero(), nil, exitcode.Ok)
	rt.Call(h.Release, &vesting.ReleaseParams{Beneficiary: beneficiary})
	rt.Verify()
}

func (h *vestingHarness) assertScheduleCount(rt *mock.Runtime, expected int64) {
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.GetVestingSchedulesCount, nil).(*cbg.CborInt)
	rt.Verify()
	assert.Equal(h.t, expected, int64(*ret))
}

func (h *vestingHarness) assertTotalCommitted(rt *mock.Runtime, expected abi.TokenAmount) {
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.GetVestingSchedulesTotalAmount, nil).(*abi.TokenAmount)
	rt.Verify()
	assert.Equal(h.t, expected, *ret)
}

func (h *vestingHarness) assertWithdrawable(rt *mock.Runtime, balance, expected abi.TokenAmount) {
	rt.ExpectValidateCallerAny()
	h.expectTokenBalance(rt, balance)
	ret := rt.Call(h.GetWithdrawableAmount, nil).(*abi.TokenAmount)
	rt.Verify()
	assert.Equal(h.t, expected, *ret)
}

func (h *vestingHarness) assertReleased(rt *mock.Runtime, beneficiary addr.Address, expected bool) {
	var st vesting.State
	rt.GetState(&st)
	sched, found := st.FindSchedule(beneficiary)
	require.True(h.t, found)
	assert.Equal(h.t, expected, sched.Released)
}

func (h *vestingHarness) checkState(rt *mock.Runtime) {
	var st vesting.State
	rt.GetState(&st)
	_, acc := vesting.CheckStateInvariants(&st)
	assert.True(h.t, acc.IsEmpty(), "%v", acc.Messages())
}

//
// Misc. Utility Functions
//

func newIDAddr(t *testing.T, id uint64) addr.Address {
	address, err := addr.NewIDAddress(id)
	if err != nil {
		t.Fatal(err)
	}
	return address
}
