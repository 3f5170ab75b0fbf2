// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/beam232001/devault/crypter"
	"github.com/beam232001/devault/keystore"
	"github.com/beam232001/devault/txstore"
	"github.com/beam232001/devault/walletdb"
	"github.com/btcsuite/btcd/btcec/v2"
)

// hdCoord locates a pool key on the HD tree.
type hdCoord struct {
	internal   bool
	childIndex uint32
}

// walletLoader buffers records during a database replay.  Records with
// ordering dependencies between them (the HD chain, encrypted keys,
// derivation coordinates, pool keys, transactions) are applied together
// once the replay finishes, so the database iteration order never
// matters.
type walletLoader struct {
	w *Wallet

	hdChainRaw  []byte
	cryptedKeys map[string][]byte
	hdPubKeys   map[string]hdCoord
	poolKeys    map[uint64][]byte
	txs         map[string][]byte

	orderPosNext    uint64
	haveOrderPos    bool
	bestBlockRaw    []byte
	rescanSuggested bool
}

func newWalletLoader(w *Wallet) *walletLoader {
	return &walletLoader{
		w:           w,
		cryptedKeys: make(map[string][]byte),
		hdPubKeys:   make(map[string]hdCoord),
		poolKeys:    make(map[uint64][]byte),
		txs:         make(map[string][]byte),
	}
}

func (l *walletLoader) LoadName(addr, name string) error {
	l.w.addrNames[addr] = name
	return nil
}

func (l *walletLoader) LoadPurpose(addr, purpose string) error {
	l.w.addrPurposes[addr] = purpose
	return nil
}

func (l *walletLoader) LoadTx(txid, raw []byte) error {
	// Decode now so damage is detected during the replay, but apply
	// later with the rest of the history.
	if _, err := txstore.DeserializeTxRecord(raw); err != nil {
		return err
	}
	l.txs[string(txid)] = append([]byte(nil), raw...)
	return nil
}

func (l *walletLoader) LoadCryptedKey(pubKey, crypted []byte) error {
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return err
	}
	l.cryptedKeys[string(pubKey)] = append([]byte(nil), crypted...)
	return nil
}

func (l *walletLoader) LoadKeyMeta(pubKey, meta []byte) error {
	// Validated for damage detection; the wallet keeps no in-memory
	// metadata index.
	_, err := keystore.DeserializeKeyMetadata(meta)
	return err
}

func (l *walletLoader) LoadMasterKey(id uint32, raw []byte) error {
	mk := &crypter.MasterKey{}
	if err := mk.Unmarshal(raw); err != nil {
		return err
	}
	l.w.masterKeys[id] = mk
	if id > l.w.nextMasterID {
		l.w.nextMasterID = id
	}
	return nil
}

func (l *walletLoader) LoadScript(scriptID, script []byte) error {
	return l.w.KeyStore.AddScript(script)
}

func (l *walletLoader) LoadWatchScript(scriptID, script []byte) error {
	return l.w.KeyStore.AddWatchOnly(script)
}

func (l *walletLoader) LoadWatchMeta(scriptID, meta []byte) error {
	_, err := keystore.DeserializeKeyMetadata(meta)
	return err
}

func (l *walletLoader) LoadPoolKey(index uint64, raw []byte) error {
	if _, err := keystore.DeserializePoolKey(raw); err != nil {
		return err
	}
	l.poolKeys[index] = append([]byte(nil), raw...)
	return nil
}

func (l *walletLoader) LoadAccountingEntry(account string, entryNum uint64,
	raw []byte) error {

	// Accounting entries are retained on disk for history but carry no
	// live state.
	return nil
}

func (l *walletLoader) LoadDestData(addr, key, value string) error {
	if l.w.destData[addr] == nil {
		l.w.destData[addr] = make(map[string]string)
	}
	l.w.destData[addr][key] = value
	return nil
}

func (l *walletLoader) LoadHDChain(raw []byte) error {
	if _, err := keystore.DeserializeHDChain(raw); err != nil {
		return err
	}
	l.hdChainRaw = append([]byte(nil), raw...)
	return nil
}

func (l *walletLoader) LoadHDPubKey(pubKey, raw []byte) error {
	internal, childIndex, err := parseHDPubKeyRecord(raw)
	if err != nil {
		return err
	}
	l.hdPubKeys[string(pubKey)] = hdCoord{
		internal:   internal,
		childIndex: childIndex,
	}
	return nil
}

func (l *walletLoader) LoadOrderPosNext(n uint64) error {
	l.orderPosNext = n
	l.haveOrderPos = true
	return nil
}

func (l *walletLoader) LoadBestBlock(raw []byte) error {
	if _, _, err := parseBestBlock(raw); err != nil {
		return err
	}
	l.bestBlockRaw = append([]byte(nil), raw...)
	return nil
}

func (l *walletLoader) LoadDefaultKey(pubKey []byte) error {
	// Pre-HD wallets wrote a default key record; nothing uses it now.
	return nil
}

// finalize applies the buffered records in dependency order: the key
// material first, then the pool, then the transaction history.
func (l *walletLoader) finalize() error {
	w := l.w

	crypted := len(w.masterKeys) > 0 || len(l.cryptedKeys) > 0
	if crypted {
		if err := w.KeyStore.SetCrypted(); err != nil {
			return err
		}
		for pubStr, ck := range l.cryptedKeys {
			pub, err := btcec.ParsePubKey([]byte(pubStr))
			if err != nil {
				return err
			}
			if err := w.KeyStore.AddCryptedKey(pub, ck); err != nil {
				return err
			}
		}
	}

	var hdChain *keystore.HDChain
	if l.hdChainRaw != nil {
		var err error
		hdChain, err = keystore.DeserializeHDChain(l.hdChainRaw)
		if err != nil {
			return err
		}
		if err := w.KeyStore.SetHDChain(hdChain); err != nil {
			return err
		}
	}

	// Plaintext wallets store no private key records; every pool key
	// is re-derived from its recorded coordinates.
	if !crypted && hdChain != nil {
		for pubStr, coord := range l.hdPubKeys {
			branch := uint32(keystore.ExternalBranch)
			if coord.internal {
				branch = keystore.InternalBranch
			}
			priv, err := hdChain.DeriveKey(branch, coord.childIndex)
			if err != nil {
				return fmt.Errorf("cannot re-derive key: %w", err)
			}
			pub, err := btcec.ParsePubKey([]byte(pubStr))
			if err != nil {
				return err
			}
			if err := w.KeyStore.AddKey(priv, pub); err != nil {
				return err
			}
		}
	}

	for index, raw := range l.poolKeys {
		pk, err := keystore.DeserializePoolKey(raw)
		if err != nil {
			return err
		}
		w.pool.add(index, pk)
	}

	for _, raw := range l.txs {
		rec, err := txstore.DeserializeTxRecord(raw)
		if err != nil {
			return err
		}
		w.TxStore.LoadTx(rec)
	}
	if l.haveOrderPos {
		w.TxStore.SetOrderPosNext(l.orderPosNext)
	}
	if l.bestBlockRaw != nil {
		hash, height, err := parseBestBlock(l.bestBlockRaw)
		if err != nil {
			return err
		}
		w.TxStore.SetBestBlock(hash, height)
	}
	return nil
}

// Load replays the wallet database into memory.  Noncritical damage is
// tolerated: the load completes with whatever was readable and reports
// whether a rescan is needed to rebuild lost transaction history.  A
// load error on key-bearing records aborts with a corruption error.
func (w *Wallet) Load() (*walletdb.LoadResult, error) {
	loader := newWalletLoader(w)

	result, err := w.db.LoadWallet(loader)
	if err != nil && !walletdb.IsError(err, walletdb.ErrDbNoncritical) {
		return nil, err
	}
	loadErr := err

	if err := loader.finalize(); err != nil {
		return nil, err
	}

	_, tipHeight := w.TxStore.BestBlock()
	log.Infof("Loaded wallet: %d records, %d keys, %d transactions, "+
		"synced to height %d", result.Records, len(w.KeyStore.Keys()),
		len(loader.txs), tipHeight)
	if result.RescanRequired {
		log.Warnf("Transaction records were damaged; rescan required")
	}

	return result, loadErr
}
