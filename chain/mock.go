// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MockOracle is an in-memory Oracle for tests: blocks are appended by
// hand and broadcasts are collected instead of relayed.
type MockOracle struct {
	mu sync.Mutex

	blocks    [][]*wire.MsgTx
	stamps    []BlockStamp
	broadcast []*wire.MsgTx
}

// NewMockOracle returns an empty mock chain with only a genesis stamp.
func NewMockOracle() *MockOracle {
	m := &MockOracle{}
	m.stamps = append(m.stamps, BlockStamp{Height: 0})
	m.blocks = append(m.blocks, nil)
	return m
}

// AddBlock appends a block of transactions and returns its stamp.
func (m *MockOracle) AddBlock(txs ...*wire.MsgTx) BlockStamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	height := int32(len(m.blocks))
	var hash chainhash.Hash
	hash[0] = byte(height)
	hash[1] = byte(height >> 8)
	hash[31] = 0x7e
	stamp := BlockStamp{Hash: hash, Height: height}
	m.blocks = append(m.blocks, txs)
	m.stamps = append(m.stamps, stamp)
	return stamp
}

// BestBlock returns the mock tip.
func (m *MockOracle) BestBlock() (BlockStamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stamps[len(m.stamps)-1], nil
}

// BlockTransactions returns the transactions at height.
func (m *MockOracle) BlockTransactions(height int32) ([]*wire.MsgTx,
	BlockStamp, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	if height < 0 || int(height) >= len(m.blocks) {
		return nil, BlockStamp{}, ErrBlockNotFound
	}
	return m.blocks[height], m.stamps[height], nil
}

// Broadcast records the transaction.
func (m *MockOracle) Broadcast(tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = append(m.broadcast, tx)
	return nil
}

// Broadcasts returns the transactions handed to the sink.
func (m *MockOracle) Broadcasts() []*wire.MsgTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*wire.MsgTx(nil), m.broadcast...)
}
