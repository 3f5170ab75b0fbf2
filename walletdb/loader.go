// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletdb

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

// WalletLoader receives decoded records during LoadWallet.  The wallet
// implements it to rebuild its in-memory state; each callback returns
// an error when the record payload cannot be applied.
type WalletLoader interface {
	LoadName(addr, name string) error
	LoadPurpose(addr, purpose string) error
	LoadTx(txid, raw []byte) error
	LoadCryptedKey(pubKey, crypted []byte) error
	LoadKeyMeta(pubKey, meta []byte) error
	LoadMasterKey(id uint32, raw []byte) error
	LoadScript(scriptID, script []byte) error
	LoadWatchScript(scriptID, script []byte) error
	LoadWatchMeta(scriptID, meta []byte) error
	LoadPoolKey(index uint64, raw []byte) error
	LoadAccountingEntry(account string, entryNum uint64, raw []byte) error
	LoadDestData(addr, key, value string) error
	LoadHDChain(raw []byte) error
	LoadHDPubKey(pubKey, raw []byte) error
	LoadOrderPosNext(n uint64) error
	LoadBestBlock(raw []byte) error
	LoadDefaultKey(pubKey []byte) error
}

// LoadResult summarizes a wallet load.
type LoadResult struct {
	// Records is the total number of records visited.
	Records int

	// Unreadable counts records skipped over damage.
	Unreadable int

	// RescanRequired is set when transaction records were damaged;
	// their contents can be rebuilt from the chain.
	RescanRequired bool
}

// loadRecord decodes a single record and hands it to the loader.
func loadRecord(loader WalletLoader, recordType string, payload,
	value []byte) error {

	switch recordType {
	case RecName:
		parts, err := parseStringPayload(payload, 1)
		if err != nil {
			return err
		}
		return loader.LoadName(parts[0], string(value))

	case RecPurpose:
		parts, err := parseStringPayload(payload, 1)
		if err != nil {
			return err
		}
		return loader.LoadPurpose(parts[0], string(value))

	case RecTx:
		return loader.LoadTx(payload, value)

	case RecCryptedKey:
		return loader.LoadCryptedKey(payload, value)

	case RecKeyMeta:
		return loader.LoadKeyMeta(payload, value)

	case RecMasterKey:
		if len(payload) != 4 {
			return fmt.Errorf("master key id has length %d",
				len(payload))
		}
		return loader.LoadMasterKey(binary.LittleEndian.Uint32(payload),
			value)

	case RecScript:
		return loader.LoadScript(payload, value)

	case RecWatchScript:
		return loader.LoadWatchScript(payload, value)

	case RecWatchMeta:
		return loader.LoadWatchMeta(payload, value)

	case RecPool:
		if len(payload) != 8 {
			return fmt.Errorf("pool index has length %d",
				len(payload))
		}
		return loader.LoadPoolKey(binary.LittleEndian.Uint64(payload),
			value)

	case RecAcentry:
		if len(payload) < 8 {
			return ErrMalformedKey
		}
		strPart := payload[:len(payload)-8]
		parts, err := parseStringPayload(strPart, 1)
		if err != nil {
			return err
		}
		entryNum := binary.LittleEndian.Uint64(payload[len(payload)-8:])
		return loader.LoadAccountingEntry(parts[0], entryNum, value)

	case RecDestData:
		parts, err := parseStringPayload(payload, 2)
		if err != nil {
			return err
		}
		return loader.LoadDestData(parts[0], parts[1], string(value))

	case RecHDChain:
		return loader.LoadHDChain(value)

	case RecHDPubKey:
		return loader.LoadHDPubKey(payload, value)

	case RecOrderPosNext:
		if len(value) != 8 {
			return fmt.Errorf("orderposnext has length %d",
				len(value))
		}
		return loader.LoadOrderPosNext(binary.LittleEndian.Uint64(value))

	case RecBestBlock:
		// Historical empty record; the locator lives in
		// bestblock_nomerkle.
		return nil

	case RecBestBlockNoMerkle:
		return loader.LoadBestBlock(value)

	case RecDefaultKey:
		return loader.LoadDefaultKey(value)

	case RecVersion, RecMinVersion:
		if len(value) != 4 {
			return fmt.Errorf("version record has length %d",
				len(value))
		}
		return nil

	default:
		// Unknown record types from newer software are skipped, not
		// failed: minversion gates true incompatibility.
		log.Debugf("Skipping unknown record type %q", recordType)
		return nil
	}
}

// LoadWallet replays every record into loader.  Damage to key-bearing
// records aborts the load with ErrDbCorrupt; other damaged records are
// skipped and reported through an ErrDbNoncritical error alongside a
// valid result, with a rescan flagged when transaction history was
// lost.
func (db *DB) LoadWallet(loader WalletLoader) (*LoadResult, error) {
	// The version gate runs before anything is replayed.
	minVersion, err := db.readU32(RecMinVersion)
	if err == nil && minVersion > LatestVersion {
		return nil, dbError(ErrDbTooNew, fmt.Sprintf(
			"database requires version %d, this software supports "+
				"up to %d", minVersion, LatestVersion), nil)
	}

	result := &LoadResult{}
	err = db.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(walletBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			result.Records++

			recordType, payload, err := parseRecordKey(k)
			if err != nil {
				result.Unreadable++
				log.Warnf("Skipping record with unreadable key")
				continue
			}

			if err := loadRecord(loader, recordType, payload,
				v); err != nil {

				if isKeyType(recordType) {
					return dbError(ErrDbCorrupt,
						fmt.Sprintf("unable to read %s "+
							"record", recordType),
						err)
				}
				result.Unreadable++
				if recordType == RecTx {
					result.RescanRequired = true
				}
				log.Warnf("Skipping damaged %s record: %v",
					recordType, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Unreadable > 0 {
		return result, dbError(ErrDbNoncritical, fmt.Sprintf(
			"%d of %d records were unreadable", result.Unreadable,
			result.Records), nil)
	}
	return result, nil
}

// readU32 reads a four-byte record with an empty key payload.
func (db *DB) readU32(recordType string) (uint32, error) {
	var v uint32
	err := db.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(walletBucket).Get(recordKey(recordType, nil))
		if len(raw) != 4 {
			return dbError(ErrDbNotFound, recordType+" not found",
				nil)
		}
		v = binary.LittleEndian.Uint32(raw)
		return nil
	})
	return v, err
}

// Version returns the database version record.
func (db *DB) Version() (uint32, error) {
	return db.readU32(RecVersion)
}

// KeepFilter decides which record types survive a salvage.
type KeepFilter func(recordType string) bool

/// KeysOnlyFilter keeps only the records needed to recover funds: the
// master keys, encrypted private keys, the HD chain with the derivation
// coordinates of every handed-out key, and the version gates.  The
// coordinates matter for unencrypted wallets, which persist no private
// key records at all and re-derive them from the chain on load.
func KeysOnlyFilter(recordType string) bool {
	switch recordType {
	case RecMasterKey, RecCryptedKey, RecHDChain, RecHDPubKey,
		RecKeyMeta, RecVersion, RecMinVersion:
		return true
	}
	return false
}

// Salvage copies every readable record passing keep from src into dst,
// skipping records whose keys cannot be parsed.  It returns the counts
// of kept and skipped records.
func Salvage(src, dst *DB, keep KeepFilter) (int, int, error) {
	kept, skipped := 0, 0

	batch, err := dst.TxnBegin()
	if err != nil {
		return 0, 0, err
	}
	err = src.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(walletBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			recordType, payload, err := parseRecordKey(k)
			if err != nil {
				skipped++
				continue
			}
			if keep != nil && !keep(recordType) {
				skipped++
				continue
			}
			if err := batch.put(recordType, payload, v); err != nil {
				return err
			}
			kept++
		}
		return nil
	})
	if err != nil {
		_ = batch.Abort()
		return 0, 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, 0, err
	}
	log.Infof("Salvage kept %d records, skipped %d", kept, skipped)
	return kept, skipped, nil
}
