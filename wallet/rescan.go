// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"

	"github.com/beam232001/devault/txstore"
	"github.com/btcsuite/btcd/wire"
)

// ErrRescanInProgress is returned when a rescan is requested while
// another is still running.
var ErrRescanInProgress = errors.New("rescan already in progress")

// relevantTx reports whether a transaction touches the wallet: it pays
// an owned or watched script, or it spends an output of a transaction
// the wallet already tracks.
func (w *Wallet) relevantTx(tx *wire.MsgTx) bool {
	for _, txOut := range tx.TxOut {
		if w.scriptOwnership(txOut.PkScript, 0) != txstore.OwnNone {
			return true
		}
	}
	for _, txIn := range tx.TxIn {
		prev := txIn.PreviousOutPoint
		rec, err := w.TxStore.TxDetails(&prev.Hash)
		if err != nil {
			continue
		}
		if int(prev.Index) >= len(rec.MsgTx.TxOut) {
			continue
		}
		pkScript := rec.MsgTx.TxOut[prev.Index].PkScript
		if w.scriptOwnership(pkScript, 0) != txstore.OwnNone {
			return true
		}
	}
	return false
}

// Rescan replays the chain from fromHeight, adding every relevant
// transaction back into the ledger and advancing the sync point block
// by block.  Only one rescan runs at a time; a second request fails
// immediately with ErrRescanInProgress.  A shutdown aborts the scan at
// the next block boundary, leaving the sync point at the last block
// fully processed.
func (w *Wallet) Rescan(fromHeight int32) error {
	if !w.rescanSem.TryAcquire(1) {
		return ErrRescanInProgress
	}
	defer w.rescanSem.Release(1)

	best, err := w.chain.BestBlock()
	if err != nil {
		return err
	}
	if fromHeight < 0 {
		fromHeight = 0
	}
	log.Infof("Rescanning blocks %d through %d", fromHeight, best.Height)

	found := 0
	for height := fromHeight; height <= best.Height; height++ {
		select {
		case <-w.quit:
			log.Infof("Rescan aborted at height %d", height)
			return nil
		default:
		}

		txs, stamp, err := w.chain.BlockTransactions(height)
		if err != nil {
			return err
		}
		block := txstore.BlockMeta{Hash: stamp.Hash, Height: stamp.Height}

		for _, tx := range txs {
			if !w.relevantTx(tx) {
				continue
			}
			rec := txstore.NewTxRecord(tx, w.clock.Now())
			rec.Block = &block
			w.TxStore.AddToWallet(rec)
			found++
		}
		w.TxStore.BlockConnected(block)
	}

	log.Infof("Rescan finished at height %d, %d relevant transactions",
		best.Height, found)
	return w.FlushDirty()
}
