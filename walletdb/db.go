// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletdb persists every wallet record in a single ordered
// key/value store.  Records are typed strings with type-specific key
// payloads; multi-record changes happen inside one Batch so the wallet
// on disk moves between consistent states only.
package walletdb

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

// LatestVersion is the database version written by this software.  A
// database whose minversion record exceeds it cannot be opened.
const LatestVersion uint32 = 1

var walletBucket = []byte("wallet")

// DB is a wallet database backed by a single bbolt bucket.
type DB struct {
	db *bbolt.DB

	// updateCounter counts committed batches, letting the flusher
	// detect quiescence.
	updateCounter atomic.Uint64
}

// Open opens or creates the wallet database at path.
func Open(path string) (*DB, error) {
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, dbError(ErrDbUnknown, "unable to open database", err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(walletBucket)
		return err
	})
	if err != nil {
		_ = bdb.Close()
		return nil, dbError(ErrDbUnknown, "unable to create bucket", err)
	}
	return &DB{db: bdb}, nil
}

// Close releases the underlying database.
func (db *DB) Close() error {
	return db.db.Close()
}

// UpdateCount returns the number of committed batches since open.
func (db *DB) UpdateCount() uint64 {
	return db.updateCounter.Load()
}

// TxIDs returns the key of every transaction record in the database.
func (db *DB) TxIDs() ([][]byte, error) {
	var txids [][]byte
	err := db.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(walletBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			recordType, payload, err := parseRecordKey(k)
			if err != nil || recordType != RecTx {
				continue
			}
			txids = append(txids, append([]byte(nil), payload...))
		}
		return nil
	})
	if err != nil {
		return nil, dbError(ErrDbUnknown, "unable to scan tx records",
			err)
	}
	return txids, nil
}

// Batch is a read-write transaction over the wallet records.  All
// writes in a batch commit atomically or not at all.
type Batch struct {
	db     *DB
	tx     *bbolt.Tx
	bucket *bbolt.Bucket
}

// TxnBegin starts a batch.
func (db *DB) TxnBegin() (*Batch, error) {
	tx, err := db.db.Begin(true)
	if err != nil {
		return nil, dbError(ErrDbUnknown, "unable to begin batch", err)
	}
	return &Batch{db: db, tx: tx, bucket: tx.Bucket(walletBucket)}, nil
}

// Commit atomically applies the batch.
func (b *Batch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return dbError(ErrDbUnknown, "unable to commit batch", err)
	}
	b.db.updateCounter.Add(1)
	return nil
}

// Abort discards the batch.
func (b *Batch) Abort() error {
	return b.tx.Rollback()
}

// Update runs fn inside a batch, committing when it succeeds and
// aborting when it fails.
func (db *DB) Update(fn func(*Batch) error) error {
	b, err := db.TxnBegin()
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		_ = b.Abort()
		return err
	}
	return b.Commit()
}

func (b *Batch) put(recordType string, payload, value []byte) error {
	if err := b.bucket.Put(recordKey(recordType, payload), value); err != nil {
		return dbError(ErrDbUnknown, "unable to write "+recordType, err)
	}
	return nil
}

func (b *Batch) delete(recordType string, payload []byte) error {
	key := recordKey(recordType, payload)
	if err := b.bucket.Delete(key); err != nil {
		return dbError(ErrDbUnknown, "unable to delete "+recordType, err)
	}
	return nil
}

func u32Bytes(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u64Bytes(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// PutName writes an address book name for an address.
func (b *Batch) PutName(addr, name string) error {
	return b.put(RecName, stringPayload(addr), []byte(name))
}

// PutPurpose writes an address book purpose for an address.
func (b *Batch) PutPurpose(addr, purpose string) error {
	return b.put(RecPurpose, stringPayload(addr), []byte(purpose))
}

// DeleteName removes an address book name.
func (b *Batch) DeleteName(addr string) error {
	return b.delete(RecName, stringPayload(addr))
}

// DeletePurpose removes an address book purpose.
func (b *Batch) DeletePurpose(addr string) error {
	return b.delete(RecPurpose, stringPayload(addr))
}

// PutTx writes a serialized transaction record keyed by its id.
func (b *Batch) PutTx(txid []byte, raw []byte) error {
	return b.put(RecTx, txid, raw)
}

// DeleteTx removes a transaction record.
func (b *Batch) DeleteTx(txid []byte) error {
	return b.delete(RecTx, txid)
}

// PutCryptedKey writes an encrypted private key keyed by its public
// key.
func (b *Batch) PutCryptedKey(pubKey, crypted []byte) error {
	return b.put(RecCryptedKey, pubKey, crypted)
}

// PutKeyMeta writes key metadata keyed by public key.
func (b *Batch) PutKeyMeta(pubKey, meta []byte) error {
	return b.put(RecKeyMeta, pubKey, meta)
}

// PutMasterKey writes a serialized master key record under an id.
func (b *Batch) PutMasterKey(id uint32, raw []byte) error {
	return b.put(RecMasterKey, u32Bytes(id), raw)
}

// PutScript writes a redeem script keyed by its hash.
func (b *Batch) PutScript(scriptID, script []byte) error {
	return b.put(RecScript, scriptID, script)
}

// PutWatchScript writes a watch-only script keyed by its hash.
func (b *Batch) PutWatchScript(scriptID, script []byte) error {
	return b.put(RecWatchScript, scriptID, script)
}

// DeleteWatchScript removes a watch-only script and its metadata.
func (b *Batch) DeleteWatchScript(scriptID []byte) error {
	if err := b.delete(RecWatchScript, scriptID); err != nil {
		return err
	}
	return b.delete(RecWatchMeta, scriptID)
}

// PutWatchMeta writes creation metadata for a watch-only script.
func (b *Batch) PutWatchMeta(scriptID, meta []byte) error {
	return b.put(RecWatchMeta, scriptID, meta)
}

// PutPoolKey writes a keypool entry under its pool index.
func (b *Batch) PutPoolKey(index uint64, raw []byte) error {
	return b.put(RecPool, u64Bytes(index), raw)
}

// DeletePoolKey removes a keypool entry.
func (b *Batch) DeletePoolKey(index uint64) error {
	return b.delete(RecPool, u64Bytes(index))
}

// PutAccountingEntry appends an internal accounting entry for an
// account under a strictly increasing entry number.
func (b *Batch) PutAccountingEntry(account string, entryNum uint64,
	raw []byte) error {

	payload := append(stringPayload(account), u64Bytes(entryNum)...)
	return b.put(RecAcentry, payload, raw)
}

// PutDestData writes an arbitrary destination-scoped key/value pair.
func (b *Batch) PutDestData(addr, key, value string) error {
	return b.put(RecDestData, stringPayload(addr, key), []byte(value))
}

// DeleteDestData removes a destination-scoped key/value pair.
func (b *Batch) DeleteDestData(addr, key string) error {
	return b.delete(RecDestData, stringPayload(addr, key))
}

// PutHDChain writes the serialized HD chain record.
func (b *Batch) PutHDChain(raw []byte) error {
	return b.put(RecHDChain, nil, raw)
}

// PutHDPubKey writes extended public key data for a derived key.
func (b *Batch) PutHDPubKey(pubKey, raw []byte) error {
	return b.put(RecHDPubKey, pubKey, raw)
}

// PutOrderPosNext writes the next transaction ordering position.
func (b *Batch) PutOrderPosNext(n uint64) error {
	return b.put(RecOrderPosNext, nil, u64Bytes(n))
}

// PutBestBlock writes the wallet's chain tip locator.
func (b *Batch) PutBestBlock(raw []byte) error {
	if err := b.put(RecBestBlock, nil, nil); err != nil {
		return err
	}
	return b.put(RecBestBlockNoMerkle, nil, raw)
}

// DeleteBestBlock removes the wallet's chain tip locator.
func (b *Batch) DeleteBestBlock() error {
	if err := b.delete(RecBestBlock, nil); err != nil {
		return err
	}
	return b.delete(RecBestBlockNoMerkle, nil)
}

// PutVersion writes the software version that last wrote the database.
func (b *Batch) PutVersion(v uint32) error {
	return b.put(RecVersion, nil, u32Bytes(v))
}

// PutMinVersion writes the minimum software version able to read the
// database.
func (b *Batch) PutMinVersion(v uint32) error {
	return b.put(RecMinVersion, nil, u32Bytes(v))
}

// PutDefaultKey writes the wallet's default public key.
func (b *Batch) PutDefaultKey(pubKey []byte) error {
	return b.put(RecDefaultKey, nil, pubKey)
}
