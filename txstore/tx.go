// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txstore implements the wallet's transaction ledger: every
// transaction paying to or spending from the wallet, an index of which
// outpoints each one spends, conflict and abandonment tracking, and the
// balances derived from all of it.
package txstore

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// CoinbaseMaturity is the number of blocks before a coinbase output may
// be spent.
const CoinbaseMaturity = 100

// AbandonedBlockHash is the sentinel block hash marking a transaction
// the user has given up on.  An abandoned transaction frees its inputs
// for reuse without waiting for a conflicting confirmation.
var AbandonedBlockHash = chainhash.Hash{0: 0x01}

// BlockMeta points a mined transaction at its confirming block.
type BlockMeta struct {
	Hash   chainhash.Hash
	Height int32
}

// Ownership classifies how the wallet relates to an output script.
type Ownership uint8

const (
	// OwnNone means the script is unrelated to the wallet.
	OwnNone Ownership = iota

	// OwnWatchOnly means the wallet watches the script but cannot
	// sign for it.
	OwnWatchOnly

	// OwnSpendable means the wallet holds the keys to spend it.
	OwnSpendable
)

// CreditPolicy decides output ownership.  The wallet wires its key
// store in; tests substitute fixed script sets.
type CreditPolicy interface {
	ScriptOwnership(pkScript []byte) Ownership
}

// TxRecord is a transaction relevant to the wallet together with the
// metadata the ledger tracks for it.
type TxRecord struct {
	MsgTx wire.MsgTx

	// Hash is the transaction id, memoized from MsgTx.
	Hash chainhash.Hash

	// Received is when the wallet first learned of the transaction.
	Received time.Time

	// FromMe marks transactions created by this wallet.
	FromMe bool

	// OrderPos is the wallet-wide insertion order, used to present
	// transactions in a stable order independent of map iteration.
	OrderPos uint64

	// Label is an optional user-assigned note.
	Label string

	// Block is the confirming block, or nil while unmined.
	Block *BlockMeta

	// conflictingBlock is set when a block-confirmed transaction
	// spends one of this transaction's inputs.  Its height gives the
	// (negative) depth of the conflict.
	conflictingBlock *BlockMeta

	// abandoned marks the transaction as given up by the user.
	abandoned bool

	// Memoized per-policy amounts, invalidated by markDirty whenever
	// the spend state around this transaction changes.
	cachedDebit       fn.Option[btcutil.Amount]
	cachedCredit      fn.Option[btcutil.Amount]
	cachedWatchCredit fn.Option[btcutil.Amount]
}

// NewTxRecord builds a record around a transaction, copying it and
// memoizing its hash.
func NewTxRecord(tx *wire.MsgTx, received time.Time) *TxRecord {
	rec := &TxRecord{
		Received: received,
	}
	rec.MsgTx = *tx.Copy()
	rec.Hash = rec.MsgTx.TxHash()
	return rec
}

// markDirty drops the memoized amounts so they are recomputed on next
// access.
func (r *TxRecord) markDirty() {
	r.cachedDebit = fn.None[btcutil.Amount]()
	r.cachedCredit = fn.None[btcutil.Amount]()
	r.cachedWatchCredit = fn.None[btcutil.Amount]()
}

// IsCoinbase reports whether the transaction is a coinbase.
func (r *TxRecord) IsCoinbase() bool {
	return len(r.MsgTx.TxIn) == 1 &&
		r.MsgTx.TxIn[0].PreviousOutPoint.Index == wire.MaxPrevOutIndex
}

// IsAbandoned reports whether the user has abandoned the transaction.
func (r *TxRecord) IsAbandoned() bool {
	return r.abandoned
}

// depth returns the record's confirmation depth relative to the chain
// tip: positive once mined, zero while unmined, and negative by the
// conflicting block's own depth when a conflicting spend confirmed.
func (r *TxRecord) depth(tipHeight int32) int32 {
	if r.Block != nil {
		return tipHeight - r.Block.Height + 1
	}
	if r.conflictingBlock != nil {
		return -(tipHeight - r.conflictingBlock.Height + 1)
	}
	return 0
}

// blocksToMaturity returns how many more blocks a coinbase needs before
// its outputs are spendable, or zero for regular transactions.
func (r *TxRecord) blocksToMaturity(tipHeight int32) int32 {
	if !r.IsCoinbase() {
		return 0
	}
	remaining := CoinbaseMaturity + 1 - r.depth(tipHeight)
	if remaining < 0 {
		return 0
	}
	return remaining
}
