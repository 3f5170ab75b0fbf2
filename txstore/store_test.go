// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var (
	ownScript   = []byte{0x76, 0xa9, 0x14, 0x01}
	watchScript = []byte{0x76, 0xa9, 0x14, 0x02}
	otherScript = []byte{0x76, 0xa9, 0x14, 0x03}

	testTime = time.Unix(1566254400, 0)
)

// scriptPolicy owns exactly the scripts it maps.
type scriptPolicy map[string]Ownership

func (p scriptPolicy) ScriptOwnership(s []byte) Ownership {
	return p[string(s)]
}

func testPolicy() scriptPolicy {
	return scriptPolicy{
		string(ownScript):   OwnSpendable,
		string(watchScript): OwnWatchOnly,
	}
}

func testStore() *Store {
	return New(testPolicy(), clock.NewTestClock(testTime))
}

func blockAt(height int32) BlockMeta {
	var hash chainhash.Hash
	hash[0] = byte(height)
	hash[1] = byte(height >> 8)
	hash[31] = 0x7f
	return BlockMeta{Hash: hash, Height: height}
}

func spendTx(prev wire.OutPoint, values []int64, scripts [][]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	for i, v := range values {
		tx.AddTxOut(wire.NewTxOut(v, scripts[i]))
	}
	return tx
}

func coinbaseTx(value int64, script []byte, extra byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := wire.OutPoint{Index: wire.MaxPrevOutIndex}
	tx.AddTxIn(wire.NewTxIn(&prev, []byte{extra}, nil))
	tx.AddTxOut(wire.NewTxOut(value, script))
	return tx
}

// fund mines a transaction paying value to the wallet and returns its
// first outpoint.
func fund(t *testing.T, s *Store, value int64, height int32) wire.OutPoint {
	t.Helper()
	prev := wire.OutPoint{Index: uint32(height)}
	tx := spendTx(prev, []int64{value}, [][]byte{ownScript})
	rec := NewTxRecord(tx, testTime)
	block := blockAt(height)
	rec.Block = &block
	s.AddToWallet(rec)
	s.BlockConnected(block)
	return wire.OutPoint{Hash: rec.Hash, Index: 0}
}

func TestBalanceAndSpend(t *testing.T) {
	s := testStore()
	op := fund(t, s, 10e8, 1)

	require.Equal(t, btcutil.Amount(10e8), s.Balance())
	require.False(t, s.IsSpent(op))

	// Spend 4 to a stranger, 6 back to ourselves, in an own unmined
	// transaction.  The change stays trusted and spendable.
	tx := spendTx(op, []int64{4e8, 6e8 - 1e4},
		[][]byte{otherScript, ownScript})
	rec := NewTxRecord(tx, testTime)
	rec.FromMe = true
	s.AddToWallet(rec)

	require.True(t, s.IsSpent(op))
	require.Equal(t, btcutil.Amount(6e8-1e4), s.Balance())
	require.Equal(t, btcutil.Amount(0), s.UnconfirmedBalance())

	// The unspent view contains only the change output.
	utxos := s.UnspentOutputs(0)
	require.Len(t, utxos, 1)
	require.Equal(t, btcutil.Amount(6e8-1e4), utxos[0].Amount)
}

func TestUntrustedIncoming(t *testing.T) {
	s := testStore()
	s.BlockConnected(blockAt(1))

	// An unconfirmed payment from a stranger is pending, not balance.
	prev := wire.OutPoint{Index: 9}
	rec := NewTxRecord(spendTx(prev, []int64{5e8}, [][]byte{ownScript}),
		testTime)
	s.AddToWallet(rec)

	require.Equal(t, btcutil.Amount(0), s.Balance())
	require.Equal(t, btcutil.Amount(5e8), s.UnconfirmedBalance())
	require.Empty(t, s.UnspentOutputs(0))

	// Confirmation moves it into the balance.
	block := blockAt(2)
	update := NewTxRecord(spendTx(prev, []int64{5e8}, [][]byte{ownScript}),
		testTime)
	update.Block = &block
	s.AddToWallet(update)
	s.BlockConnected(block)

	require.Equal(t, btcutil.Amount(5e8), s.Balance())
	require.Equal(t, btcutil.Amount(0), s.UnconfirmedBalance())
}

func TestConflictPropagation(t *testing.T) {
	s := testStore()
	op := fund(t, s, 10e8, 1)

	// Own unmined spend chain: A spends the funding output, B spends
	// A's change.
	txA := spendTx(op, []int64{10e8 - 1e4}, [][]byte{ownScript})
	recA := NewTxRecord(txA, testTime)
	recA.FromMe = true
	s.AddToWallet(recA)

	opA := wire.OutPoint{Hash: recA.Hash, Index: 0}
	txB := spendTx(opA, []int64{10e8 - 2e4}, [][]byte{ownScript})
	recB := NewTxRecord(txB, testTime)
	recB.FromMe = true
	s.AddToWallet(recB)

	// A double spend of the funding output confirms in a block.
	txC := spendTx(op, []int64{10e8 - 1e4}, [][]byte{otherScript})
	recC := NewTxRecord(txC, testTime)
	block := blockAt(2)
	recC.Block = &block
	s.AddToWallet(recC)
	s.BlockConnected(block)

	// A and its descendant B both drop below confirmation.
	gotA, err := s.TxDetails(&recA.Hash)
	require.NoError(t, err)
	require.Negative(t, gotA.depth(2))
	gotB, err := s.TxDetails(&recB.Hash)
	require.NoError(t, err)
	require.Negative(t, gotB.depth(2))

	// The conflicted chain no longer holds balance, and C keeps the
	// funding output marked spent.
	require.Equal(t, btcutil.Amount(0), s.Balance())
	require.True(t, s.IsSpent(op))

	conflicts := s.GetConflicts(&recA.Hash)
	require.Equal(t, []chainhash.Hash{recC.Hash}, conflicts)
}

func TestAbandon(t *testing.T) {
	s := testStore()
	op := fund(t, s, 10e8, 1)

	txA := spendTx(op, []int64{10e8 - 1e4}, [][]byte{ownScript})
	recA := NewTxRecord(txA, testTime)
	recA.FromMe = true
	s.AddToWallet(recA)

	opA := wire.OutPoint{Hash: recA.Hash, Index: 0}
	txB := spendTx(opA, []int64{10e8 - 2e4}, [][]byte{ownScript})
	recB := NewTxRecord(txB, testTime)
	recB.FromMe = true
	s.AddToWallet(recB)

	require.True(t, s.IsSpent(op))

	require.NoError(t, s.Abandon(recA.Hash))
	require.True(t, recA.IsAbandoned())
	require.True(t, recB.IsAbandoned())

	// Abandoning the chain releases the funding output.
	require.False(t, s.IsSpent(op))
	require.Equal(t, btcutil.Amount(10e8), s.Balance())

	// Confirmed transactions cannot be abandoned.
	fundingOp := op
	fundingRec, err := s.TxDetails(&fundingOp.Hash)
	require.NoError(t, err)
	require.ErrorIs(t, s.Abandon(fundingRec.Hash), ErrTxConfirmed)

	require.ErrorIs(t, s.Abandon(chainhash.Hash{9}), ErrUnknownTx)
}

func TestCoinbaseMaturity(t *testing.T) {
	s := testStore()

	rec := NewTxRecord(coinbaseTx(50e8, ownScript, 1), testTime)
	block := blockAt(1)
	rec.Block = &block
	s.AddToWallet(rec)
	s.BlockConnected(blockAt(1))

	require.Equal(t, btcutil.Amount(0), s.Balance())
	require.Equal(t, btcutil.Amount(50e8), s.ImmatureBalance())
	require.Empty(t, s.UnspentOutputs(0))

	s.BlockConnected(blockAt(1 + CoinbaseMaturity))
	require.Equal(t, btcutil.Amount(50e8), s.Balance())
	require.Equal(t, btcutil.Amount(0), s.ImmatureBalance())
	require.Len(t, s.UnspentOutputs(0), 1)
}

func TestWatchOnlyBalance(t *testing.T) {
	s := testStore()

	prev := wire.OutPoint{Index: 3}
	tx := spendTx(prev, []int64{7e8, 2e8}, [][]byte{watchScript, ownScript})
	rec := NewTxRecord(tx, testTime)
	block := blockAt(1)
	rec.Block = &block
	s.AddToWallet(rec)
	s.BlockConnected(block)

	require.Equal(t, btcutil.Amount(2e8), s.Balance())
	require.Equal(t, btcutil.Amount(7e8), s.WatchOnlyBalance())
}

func TestBlockDisconnected(t *testing.T) {
	s := testStore()
	op := fund(t, s, 10e8, 5)

	rec, err := s.TxDetails(&op.Hash)
	require.NoError(t, err)
	require.Equal(t, int32(1), rec.depth(5))

	s.BlockDisconnected(5)
	require.Nil(t, rec.Block)
	_, tip := s.BestBlock()
	require.Equal(t, int32(4), tip)

	// Back to untrusted pending: the sender is not us.
	require.Equal(t, btcutil.Amount(0), s.Balance())
	require.Equal(t, btcutil.Amount(10e8), s.UnconfirmedBalance())
}

func TestOrderedTxsAndZap(t *testing.T) {
	s := testStore()
	var hashes []chainhash.Hash
	for i := int64(1); i <= 3; i++ {
		prev := wire.OutPoint{Index: uint32(i)}
		rec := NewTxRecord(spendTx(prev, []int64{i * 1e8},
			[][]byte{ownScript}), testTime.Add(time.Duration(i)))
		s.AddToWallet(rec)
		hashes = append(hashes, rec.Hash)
	}

	ordered := s.OrderedTxs()
	require.Len(t, ordered, 3)
	for i, rec := range ordered {
		require.Equal(t, hashes[i], rec.Hash)
		require.Equal(t, uint64(i), rec.OrderPos)
	}
	require.Equal(t, uint64(3), s.OrderPosNext())

	require.Equal(t, 3, s.Zap())
	require.Empty(t, s.OrderedTxs())
	require.Equal(t, uint64(3), s.OrderPosNext())
}

func TestSerializeRoundTrip(t *testing.T) {
	prev := wire.OutPoint{Index: 1}
	tx := spendTx(prev, []int64{5e8}, [][]byte{ownScript})

	rec := NewTxRecord(tx, testTime)
	rec.FromMe = true
	rec.OrderPos = 42
	rec.Label = "rent payment"
	block := blockAt(7)
	rec.Block = &block

	data, err := SerializeTxRecord(rec)
	require.NoError(t, err)
	got, err := DeserializeTxRecord(data)
	require.NoError(t, err)

	require.Equal(t, rec.Hash, got.Hash)
	require.Equal(t, rec.Received.Unix(), got.Received.Unix())
	require.True(t, got.FromMe)
	require.Equal(t, uint64(42), got.OrderPos)
	require.Equal(t, "rent payment", got.Label)
	require.NotNil(t, got.Block)
	require.Equal(t, block, *got.Block)

	// Abandoned and conflicted states survive too.
	rec.Block = nil
	rec.abandoned = true
	data, err = SerializeTxRecord(rec)
	require.NoError(t, err)
	got, err = DeserializeTxRecord(data)
	require.NoError(t, err)
	require.True(t, got.IsAbandoned())

	rec.abandoned = false
	rec.conflictingBlock = &block
	data, err = SerializeTxRecord(rec)
	require.NoError(t, err)
	got, err = DeserializeTxRecord(data)
	require.NoError(t, err)
	require.NotNil(t, got.conflictingBlock)
	require.Equal(t, block, *got.conflictingBlock)

	_, err = DeserializeTxRecord([]byte{1, 2})
	require.ErrorIs(t, err, ErrMalformedTxRecord)
}

func TestLoadTxKeepsOrder(t *testing.T) {
	s := testStore()

	prev := wire.OutPoint{Index: 1}
	rec := NewTxRecord(spendTx(prev, []int64{1e8}, [][]byte{ownScript}),
		testTime)
	rec.OrderPos = 17
	s.LoadTx(rec)

	require.Equal(t, uint64(18), s.OrderPosNext())
	got, err := s.TxDetails(&rec.Hash)
	require.NoError(t, err)
	require.Equal(t, uint64(17), got.OrderPos)
}
