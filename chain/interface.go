// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain defines the wallet's view of the hosting full node.
// The wallet never validates consensus rules itself; it trusts the
// node's oracle for chain state and hands finished transactions to its
// broadcast sink.
package chain

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrBlockNotFound is returned when a requested block is outside the
// oracle's known chain.
var ErrBlockNotFound = errors.New("block not found")

// BlockStamp identifies a block by hash and height.
type BlockStamp struct {
	Hash   chainhash.Hash
	Height int32
}

// Oracle is the consensus interface the wallet consumes from the
// hosting node.
type Oracle interface {
	// BestBlock returns the current chain tip.
	BestBlock() (BlockStamp, error)

	// BlockTransactions returns the transactions of the block at the
	// given height together with its stamp.
	BlockTransactions(height int32) ([]*wire.MsgTx, BlockStamp, error)

	// Broadcast hands a finished transaction to the node's relay.
	Broadcast(tx *wire.MsgTx) error
}
