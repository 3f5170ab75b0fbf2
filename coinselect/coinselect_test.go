// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"math/rand"
	"testing"

	"github.com/beam232001/devault/txstore"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testSelector() *Selector {
	return NewSelector(rand.New(rand.NewSource(1)))
}

func coin(index uint32, amount btcutil.Amount, depth int32,
	fromMe bool) txstore.Credit {

	return txstore.Credit{
		OutPoint: wire.OutPoint{Index: index},
		Amount:   amount,
		Depth:    depth,
		FromMe:   fromMe,
	}
}

func total(coins []txstore.Credit) btcutil.Amount {
	var sum btcutil.Amount
	for _, c := range coins {
		sum += c.Amount
	}
	return sum
}

func TestExactMatch(t *testing.T) {
	coins := []txstore.Credit{
		coin(0, 1e8, 10, false),
		coin(1, 3e8, 10, false),
		coin(2, 5e8, 10, false),
	}
	selected, value, err := testSelector().SelectCoins(coins, 3e8, nil)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, btcutil.Amount(3e8), value)
	require.Equal(t, uint32(1), selected[0].OutPoint.Index)
}

func TestSelectionCoversTarget(t *testing.T) {
	var coins []txstore.Credit
	for i := uint32(0); i < 20; i++ {
		coins = append(coins, coin(i, btcutil.Amount(i+1)*1e7, 10, false))
	}
	for _, target := range []btcutil.Amount{1e7, 5e7, 9e7, 1e8, 15e7, 2e9} {
		selected, value, err := testSelector().SelectCoins(coins, target,
			nil)
		require.NoError(t, err, "target %v", target)
		require.GreaterOrEqual(t, value, target)
		require.Equal(t, value, total(selected))

		// No coin appears twice.
		seen := make(map[wire.OutPoint]struct{})
		for _, c := range selected {
			_, dup := seen[c.OutPoint]
			require.False(t, dup)
			seen[c.OutPoint] = struct{}{}
		}
	}
}

func TestInsufficientFunds(t *testing.T) {
	coins := []txstore.Credit{
		coin(0, 1e8, 10, false),
		coin(1, 2e8, 10, false),
	}
	_, _, err := testSelector().SelectCoins(coins, 4e8, nil)
	var insufficientErr *InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, btcutil.Amount(4e8), insufficientErr.Target)
	require.Equal(t, btcutil.Amount(3e8), insufficientErr.Available)
}

func TestConfirmationTiers(t *testing.T) {
	// A foreign output below 6 confirmations is reached only by the
	// second pass; an untrusted zero-conf output only when opted in.
	coins := []txstore.Credit{
		coin(0, 5e8, 2, false),
	}
	selected, _, err := testSelector().SelectCoins(coins, 1e8, nil)
	require.NoError(t, err)
	require.Len(t, selected, 1)

	zeroConf := []txstore.Credit{
		coin(0, 5e8, 0, false),
	}
	_, _, err = testSelector().SelectCoins(zeroConf, 1e8, nil)
	require.Error(t, err)

	cc := NewCoinControl()
	cc.SpendZeroConf = true
	selected, _, err = testSelector().SelectCoins(zeroConf, 1e8, cc)
	require.NoError(t, err)
	require.Len(t, selected, 1)

	// Own change at one confirmation passes the first tier already.
	ownChange := []txstore.Credit{
		coin(0, 5e8, 1, true),
	}
	_, _, err = testSelector().SelectCoins(ownChange, 1e8, nil)
	require.NoError(t, err)
}

func TestPresetInputs(t *testing.T) {
	coins := []txstore.Credit{
		coin(0, 1e8, 10, false),
		coin(1, 2e8, 10, false),
		coin(2, 7e8, 10, false),
	}

	// Preset only: the preset inputs must cover the target.
	cc := NewCoinControl()
	cc.PresetInputs = []wire.OutPoint{{Index: 1}}
	selected, value, err := testSelector().SelectCoins(coins, 1e8, cc)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, uint32(1), selected[0].OutPoint.Index)
	require.Equal(t, btcutil.Amount(2e8), value)

	_, _, err = testSelector().SelectCoins(coins, 3e8, cc)
	var insufficientErr *InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)

	// With other inputs allowed, the preset input is always included
	// and the rest is topped up automatically.
	cc.AllowOtherInputs = true
	selected, value, err = testSelector().SelectCoins(coins, 3e8, cc)
	require.NoError(t, err)
	require.GreaterOrEqual(t, value, btcutil.Amount(3e8))
	foundPreset := false
	for _, c := range selected {
		if c.OutPoint.Index == 1 {
			foundPreset = true
		}
	}
	require.True(t, foundPreset)

	// Unknown preset outpoints are rejected.
	cc = NewCoinControl()
	cc.PresetInputs = []wire.OutPoint{{Index: 99}}
	_, _, err = testSelector().SelectCoins(coins, 1e8, cc)
	require.Error(t, err)
}

func TestLockedOutpointsExcluded(t *testing.T) {
	coins := []txstore.Credit{
		coin(0, 1e8, 10, false),
		coin(1, 2e8, 10, false),
	}
	cc := NewCoinControl()
	cc.Locked = map[wire.OutPoint]struct{}{
		{Index: 1}: {},
	}
	selected, _, err := testSelector().SelectCoins(coins, 1e8, cc)
	require.NoError(t, err)
	for _, c := range selected {
		require.NotEqual(t, uint32(1), c.OutPoint.Index)
	}

	_, _, err = testSelector().SelectCoins(coins, 2e8, cc)
	require.Error(t, err)
}

func TestLowestLargerFallback(t *testing.T) {
	// Small coins cannot reach the target, so the smallest output
	// covering it must be chosen.
	coins := []txstore.Credit{
		coin(0, 1e6, 10, false),
		coin(1, 2e6, 10, false),
		coin(2, 9e8, 10, false),
		coin(3, 5e8, 10, false),
	}
	selected, value, err := testSelector().SelectCoins(coins, 4e8, nil)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, uint32(3), selected[0].OutPoint.Index)
	require.Equal(t, btcutil.Amount(5e8), value)
}

func TestDeterministicWithSeed(t *testing.T) {
	var coins []txstore.Credit
	for i := uint32(0); i < 10; i++ {
		coins = append(coins, coin(i, btcutil.Amount(i+1)*3e6, 10, false))
	}
	first, firstValue, err := NewSelector(rand.New(rand.NewSource(7))).
		SelectCoins(coins, 2e7, nil)
	require.NoError(t, err)
	second, secondValue, err := NewSelector(rand.New(rand.NewSource(7))).
		SelectCoins(coins, 2e7, nil)
	require.NoError(t, err)
	require.Equal(t, firstValue, secondValue)
	require.Equal(t, first, second)
}
