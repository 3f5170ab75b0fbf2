// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletdb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingLoader collects every record it is handed and can be told to
// reject whole record types, standing in for damaged payloads.
type recordingLoader struct {
	names      map[string]string
	purposes   map[string]string
	txs        map[string][]byte
	cryptedKey map[string][]byte
	keyMeta    map[string][]byte
	masterKeys map[uint32][]byte
	scripts    map[string][]byte
	poolKeys   map[uint64][]byte
	destData   map[string]string
	hdChain    []byte
	hdPubKeys  map[string][]byte
	bestBlock  []byte
	orderPos   uint64

	failTypes map[string]struct{}
}

func newRecordingLoader(failTypes ...string) *recordingLoader {
	l := &recordingLoader{
		names:      make(map[string]string),
		purposes:   make(map[string]string),
		txs:        make(map[string][]byte),
		cryptedKey: make(map[string][]byte),
		keyMeta:    make(map[string][]byte),
		masterKeys: make(map[uint32][]byte),
		scripts:    make(map[string][]byte),
		poolKeys:   make(map[uint64][]byte),
		destData:   make(map[string]string),
		hdPubKeys:  make(map[string][]byte),
		failTypes:  make(map[string]struct{}),
	}
	for _, t := range failTypes {
		l.failTypes[t] = struct{}{}
	}
	return l
}

func (l *recordingLoader) fail(recordType string) error {
	if _, ok := l.failTypes[recordType]; ok {
		return errors.New("payload rejected")
	}
	return nil
}

func (l *recordingLoader) LoadName(addr, name string) error {
	if err := l.fail(RecName); err != nil {
		return err
	}
	l.names[addr] = name
	return nil
}

func (l *recordingLoader) LoadPurpose(addr, purpose string) error {
	l.purposes[addr] = purpose
	return nil
}

func (l *recordingLoader) LoadTx(txid, raw []byte) error {
	if err := l.fail(RecTx); err != nil {
		return err
	}
	l.txs[string(txid)] = append([]byte(nil), raw...)
	return nil
}

func (l *recordingLoader) LoadCryptedKey(pubKey, crypted []byte) error {
	if err := l.fail(RecCryptedKey); err != nil {
		return err
	}
	l.cryptedKey[string(pubKey)] = append([]byte(nil), crypted...)
	return nil
}

func (l *recordingLoader) LoadKeyMeta(pubKey, meta []byte) error {
	l.keyMeta[string(pubKey)] = append([]byte(nil), meta...)
	return nil
}

func (l *recordingLoader) LoadMasterKey(id uint32, raw []byte) error {
	if err := l.fail(RecMasterKey); err != nil {
		return err
	}
	l.masterKeys[id] = append([]byte(nil), raw...)
	return nil
}

func (l *recordingLoader) LoadScript(scriptID, script []byte) error {
	l.scripts[string(scriptID)] = append([]byte(nil), script...)
	return nil
}

func (l *recordingLoader) LoadWatchScript(scriptID, script []byte) error {
	return nil
}

func (l *recordingLoader) LoadWatchMeta(scriptID, meta []byte) error {
	return nil
}

func (l *recordingLoader) LoadPoolKey(index uint64, raw []byte) error {
	l.poolKeys[index] = append([]byte(nil), raw...)
	return nil
}

func (l *recordingLoader) LoadAccountingEntry(account string, entryNum uint64,
	raw []byte) error {

	return nil
}

func (l *recordingLoader) LoadDestData(addr, key, value string) error {
	l.destData[addr+"/"+key] = value
	return nil
}

func (l *recordingLoader) LoadHDChain(raw []byte) error {
	if err := l.fail(RecHDChain); err != nil {
		return err
	}
	l.hdChain = append([]byte(nil), raw...)
	return nil
}

func (l *recordingLoader) LoadHDPubKey(pubKey, raw []byte) error {
	l.hdPubKeys[string(pubKey)] = append([]byte(nil), raw...)
	return nil
}

func (l *recordingLoader) LoadOrderPosNext(n uint64) error {
	l.orderPos = n
	return nil
}

func (l *recordingLoader) LoadBestBlock(raw []byte) error {
	l.bestBlock = append([]byte(nil), raw...)
	return nil
}

func (l *recordingLoader) LoadDefaultKey(pubKey []byte) error {
	return nil
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func writeFixture(t *testing.T, db *DB) {
	t.Helper()
	err := db.Update(func(b *Batch) error {
		require.NoError(t, b.PutVersion(LatestVersion))
		require.NoError(t, b.PutMinVersion(LatestVersion))
		require.NoError(t, b.PutName("Xaddr1", "alice"))
		require.NoError(t, b.PutPurpose("Xaddr1", "receive"))
		require.NoError(t, b.PutTx([]byte{0xaa}, []byte("txdata")))
		require.NoError(t, b.PutCryptedKey([]byte{0x02, 0x01},
			[]byte("cipher")))
		require.NoError(t, b.PutKeyMeta([]byte{0x02, 0x01},
			[]byte("meta")))
		require.NoError(t, b.PutMasterKey(1, []byte("mkeydata")))
		require.NoError(t, b.PutHDChain([]byte("chaindata")))
		require.NoError(t, b.PutHDPubKey([]byte{0x02, 0x01},
			[]byte("coords")))
		require.NoError(t, b.PutPoolKey(3, []byte("pooldata")))
		require.NoError(t, b.PutDestData("Xaddr1", "rr", "v"))
		require.NoError(t, b.PutOrderPosNext(12))
		require.NoError(t, b.PutBestBlock([]byte("locator")))
		return nil
	})
	require.NoError(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)
	writeFixture(t, db)

	loader := newRecordingLoader()
	result, err := db.LoadWallet(loader)
	require.NoError(t, err)
	require.Zero(t, result.Unreadable)
	require.False(t, result.RescanRequired)

	require.Equal(t, "alice", loader.names["Xaddr1"])
	require.Equal(t, "receive", loader.purposes["Xaddr1"])
	require.Equal(t, []byte("txdata"), loader.txs[string([]byte{0xaa})])
	require.Equal(t, []byte("cipher"),
		loader.cryptedKey[string([]byte{0x02, 0x01})])
	require.Equal(t, []byte("mkeydata"), loader.masterKeys[1])
	require.Equal(t, []byte("chaindata"), loader.hdChain)
	require.Equal(t, []byte("pooldata"), loader.poolKeys[3])
	require.Equal(t, "v", loader.destData["Xaddr1/rr"])
	require.Equal(t, uint64(12), loader.orderPos)
	require.Equal(t, []byte("locator"), loader.bestBlock)

	v, err := db.Version()
	require.NoError(t, err)
	require.Equal(t, LatestVersion, v)
}

func TestBatchAbort(t *testing.T) {
	db := openTestDB(t)

	batch, err := db.TxnBegin()
	require.NoError(t, err)
	require.NoError(t, batch.PutName("Xaddr", "bob"))
	require.NoError(t, batch.Abort())

	loader := newRecordingLoader()
	_, err = db.LoadWallet(loader)
	require.NoError(t, err)
	require.Empty(t, loader.names)
	require.Zero(t, db.UpdateCount())
}

func TestUpdateCount(t *testing.T) {
	db := openTestDB(t)
	require.Zero(t, db.UpdateCount())
	require.NoError(t, db.Update(func(b *Batch) error {
		return b.PutName("X1", "a")
	}))
	require.NoError(t, db.Update(func(b *Batch) error {
		return b.PutName("X2", "b")
	}))
	require.Equal(t, uint64(2), db.UpdateCount())
}

func TestTooNew(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Update(func(b *Batch) error {
		return b.PutMinVersion(LatestVersion + 1)
	}))

	_, err := db.LoadWallet(newRecordingLoader())
	require.True(t, IsError(err, ErrDbTooNew), "got %v", err)
}

func TestCorruptKeyRecord(t *testing.T) {
	db := openTestDB(t)
	writeFixture(t, db)

	for _, recordType := range []string{RecCryptedKey, RecMasterKey,
		RecHDChain} {

		_, err := db.LoadWallet(newRecordingLoader(recordType))
		require.True(t, IsError(err, ErrDbCorrupt),
			"%s: got %v", recordType, err)
	}
}

func TestNoncriticalDamage(t *testing.T) {
	db := openTestDB(t)
	writeFixture(t, db)

	// Damaged tx records do not fail the load: the keys come through
	// and a rescan is requested.
	loader := newRecordingLoader(RecTx)
	result, err := db.LoadWallet(loader)
	require.True(t, IsError(err, ErrDbNoncritical), "got %v", err)
	require.Equal(t, 1, result.Unreadable)
	require.True(t, result.RescanRequired)
	require.NotEmpty(t, loader.cryptedKey)
	require.NotEmpty(t, loader.masterKeys)

	// Damaged name records do not even need a rescan.
	loader = newRecordingLoader(RecName)
	result, err = db.LoadWallet(loader)
	require.True(t, IsError(err, ErrDbNoncritical))
	require.False(t, result.RescanRequired)
}

func TestSalvageKeysOnly(t *testing.T) {
	src := openTestDB(t)
	writeFixture(t, src)
	dst := openTestDB(t)

	kept, skipped, err := Salvage(src, dst, KeysOnlyFilter)
	require.NoError(t, err)
	require.Positive(t, kept)
	require.Positive(t, skipped)

	loader := newRecordingLoader()
	_, err = dst.LoadWallet(loader)
	require.NoError(t, err)

	// Key material survives, including the derivation coordinates an
	// unencrypted wallet rebuilds its keys from; transaction history
	// and the address book do not.
	require.NotEmpty(t, loader.cryptedKey)
	require.NotEmpty(t, loader.masterKeys)
	require.Equal(t, []byte("chaindata"), loader.hdChain)
	require.Equal(t, []byte("coords"),
		loader.hdPubKeys[string([]byte{0x02, 0x01})])
	require.Empty(t, loader.txs)
	require.Empty(t, loader.names)
}

func TestUnknownRecordSkipped(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Update(func(b *Batch) error {
		return b.put("futurerec", []byte{1}, []byte{2})
	}))

	result, err := db.LoadWallet(newRecordingLoader())
	require.NoError(t, err)
	require.Equal(t, 1, result.Records)
	require.Zero(t, result.Unreadable)
}
