// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/beam232001/devault/txstore"
	"github.com/beam232001/devault/walletdb"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// flushTickInterval is how often the background flusher wakes up
	// to check for dirty state.
	flushTickInterval = 500 * time.Millisecond

	// quiescentInterval is how long the database must sit idle before
	// the flusher writes.  Bursts of updates settle into a single
	// batch instead of one write per change.
	quiescentInterval = 2 * time.Second
)

// queueTxRecord marks a changed transaction record for the next flush.
// It is installed as the ledger's update hook.
func (w *Wallet) queueTxRecord(rec *txstore.TxRecord) {
	w.queueTxHash(rec.Hash)
}

// queueTxHash marks a transaction hash dirty.
func (w *Wallet) queueTxHash(hash chainhash.Hash) {
	w.dirtyMu.Lock()
	w.dirtyTx[hash] = struct{}{}
	w.dirtyMu.Unlock()
}

// takeDirty snapshots and clears the dirty transaction set.
func (w *Wallet) takeDirty() []chainhash.Hash {
	w.dirtyMu.Lock()
	defer w.dirtyMu.Unlock()
	if len(w.dirtyTx) == 0 {
		return nil
	}
	hashes := make([]chainhash.Hash, 0, len(w.dirtyTx))
	for hash := range w.dirtyTx {
		hashes = append(hashes, hash)
	}
	w.dirtyTx = make(map[chainhash.Hash]struct{})
	return hashes
}

// serializeBestBlock encodes the sync point written alongside every
// flush: <hash 32><height i32le>.
func serializeBestBlock(hash chainhash.Hash, height int32) []byte {
	buf := make([]byte, chainhash.HashSize+4)
	copy(buf, hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:],
		uint32(height))
	return buf
}

func parseBestBlock(b []byte) (chainhash.Hash, int32, error) {
	var hash chainhash.Hash
	if len(b) != chainhash.HashSize+4 {
		return hash, 0, errors.New("malformed best block record")
	}
	copy(hash[:], b[:chainhash.HashSize])
	height := int32(binary.LittleEndian.Uint32(b[chainhash.HashSize:]))
	return hash, height, nil
}

// FlushDirty writes every queued transaction record, the ordering
// counter, and the best block marker in one batch.  Records no longer
// in the ledger are deleted from disk.
func (w *Wallet) FlushDirty() error {
	hashes := w.takeDirty()

	return w.db.Update(func(b *walletdb.Batch) error {
		for i := range hashes {
			hash := hashes[i]
			rec, err := w.TxStore.TxDetails(&hash)
			if errors.Is(err, txstore.ErrUnknownTx) {
				if err := b.DeleteTx(hash[:]); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			raw, err := txstore.SerializeTxRecord(rec)
			if err != nil {
				return err
			}
			if err := b.PutTx(hash[:], raw); err != nil {
				return err
			}
		}
		if err := b.PutOrderPosNext(w.TxStore.OrderPosNext()); err != nil {
			return err
		}
		tipHash, tipHeight := w.TxStore.BestBlock()
		return b.PutBestBlock(serializeBestBlock(tipHash, tipHeight))
	})
}

// Start launches the background flusher.
func (w *Wallet) Start() {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.started {
		return
	}
	w.started = true

	w.flushTicker.Resume()
	w.wg.Add(1)
	go w.flushLoop()
}

// Stop halts the background flusher and performs a final synchronous
// flush so nothing queued is lost.
func (w *Wallet) Stop() error {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false

	close(w.quit)
	w.wg.Wait()
	w.flushTicker.Stop()
	return w.FlushDirty()
}

// flushLoop periodically writes dirty state, but only once the
// database has gone quiet: while other batches are still landing the
// flush is deferred to ride along with them.
func (w *Wallet) flushLoop() {
	defer w.wg.Done()

	lastCount := w.db.UpdateCount()
	lastChange := w.clock.Now()

	for {
		select {
		case <-w.flushTicker.Ticks():
			now := w.clock.Now()
			if count := w.db.UpdateCount(); count != lastCount {
				lastCount = count
				lastChange = now
				continue
			}
			if now.Sub(lastChange) < quiescentInterval {
				continue
			}
			w.dirtyMu.Lock()
			pending := len(w.dirtyTx)
			w.dirtyMu.Unlock()
			if pending == 0 {
				continue
			}
			if err := w.FlushDirty(); err != nil {
				log.Errorf("Background flush failed: %v", err)
				continue
			}
			lastCount = w.db.UpdateCount()
			lastChange = now

		case <-w.quit:
			return
		}
	}
}
