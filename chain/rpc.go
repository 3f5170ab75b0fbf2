// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// RPCOracle answers the wallet's chain queries over a node's JSON-RPC
// interface.
type RPCOracle struct {
	client *rpcclient.Client
}

var _ Oracle = (*RPCOracle)(nil)

// NewRPCOracle creates a client connection to the node RPC server at
// connect.  Requests go over HTTP POST; the connection is established
// lazily on the first request.
func NewRPCOracle(connect, user, pass string) (*RPCOracle, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         connect,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, err
	}
	log.Infof("Using node RPC server at %s", connect)
	return &RPCOracle{client: client}, nil
}

// BestBlock returns the node's chain tip.
func (o *RPCOracle) BestBlock() (BlockStamp, error) {
	hash, height, err := o.client.GetBestBlock()
	if err != nil {
		return BlockStamp{}, err
	}
	return BlockStamp{Hash: *hash, Height: height}, nil
}

// BlockTransactions fetches the block at height and returns its
// transactions with its stamp.
func (o *RPCOracle) BlockTransactions(height int32) ([]*wire.MsgTx,
	BlockStamp, error) {

	hash, err := o.client.GetBlockHash(int64(height))
	if err != nil {
		return nil, BlockStamp{}, err
	}
	block, err := o.client.GetBlock(hash)
	if err != nil {
		return nil, BlockStamp{}, err
	}
	stamp := BlockStamp{Hash: *hash, Height: height}
	return block.Transactions, stamp, nil
}

// Broadcast submits a transaction to the node's relay.
func (o *RPCOracle) Broadcast(tx *wire.MsgTx) error {
	_, err := o.client.SendRawTransaction(tx, false)
	return err
}

// Shutdown tears down the RPC connection.
func (o *RPCOracle) Shutdown() {
	o.client.Shutdown()
	o.client.WaitForShutdown()
}
