// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/beam232001/devault/keystore"
	"github.com/beam232001/devault/walletdb"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// ErrKeyPoolEmpty is returned when no pre-derived key is available and
// the locked key store prevents deriving more.
var ErrKeyPoolEmpty = errors.New("key pool exhausted and key store is locked")

// keyPool tracks the pre-derived keys waiting to be handed out.  Every
// entry also lives in the key store; the pool only schedules which key
// is used next.
type keyPool struct {
	entries   map[uint64]*keystore.PoolKey
	external  map[uint64]struct{}
	internal  map[uint64]struct{}
	nextIndex uint64
}

func newKeyPool() *keyPool {
	return &keyPool{
		entries:  make(map[uint64]*keystore.PoolKey),
		external: make(map[uint64]struct{}),
		internal: make(map[uint64]struct{}),
	}
}

func (p *keyPool) set(internal bool) map[uint64]struct{} {
	if internal {
		return p.internal
	}
	return p.external
}

func (p *keyPool) add(index uint64, pk *keystore.PoolKey) {
	p.entries[index] = pk
	p.set(pk.Internal)[index] = struct{}{}
	if index >= p.nextIndex {
		p.nextIndex = index + 1
	}
}

// reserve removes and returns the lowest-indexed available entry on a
// branch, keeping oldest keys in use first.
func (p *keyPool) reserve(internal bool) (uint64, *keystore.PoolKey, bool) {
	set := p.set(internal)
	if len(set) == 0 {
		return 0, nil, false
	}
	var best uint64
	first := true
	for idx := range set {
		if first || idx < best {
			best = idx
			first = false
		}
	}
	delete(set, best)
	return best, p.entries[best], true
}

// hdPubKeyRecord encodes the derivation coordinates persisted for each
// pool key: <internal u8><child index u32le>.
func hdPubKeyRecord(internal bool, childIndex uint32) []byte {
	buf := make([]byte, 5)
	if internal {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:], childIndex)
	return buf
}

func parseHDPubKeyRecord(b []byte) (bool, uint32, error) {
	if len(b) != 5 {
		return false, 0, errors.New("malformed hdpubkey record")
	}
	return b[0] != 0, binary.LittleEndian.Uint32(b[1:]), nil
}

// derivationPath renders the textual BIP44 path for key metadata.
func derivationPath(internal bool, childIndex uint32) string {
	branch := keystore.ExternalBranch
	if internal {
		branch = keystore.InternalBranch
	}
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", keystore.Bip44Purpose,
		keystore.Bip44CoinType, keystore.Bip44Account, branch,
		childIndex)
}

// topUpKeyPool derives keys until both branches hold the configured
// reservoir, writing every new key's records into batch.  A locked
// store surfaces as keystore.ErrLocked.
func (w *Wallet) topUpKeyPool(batch *walletdb.Batch) error {
	derived := 0
	for _, internal := range []bool{false, true} {
		for len(w.pool.set(internal)) < w.keyPoolSize {
			priv, childIndex, err := w.KeyStore.DeriveNextKey(
				internal)
			if err != nil {
				return err
			}
			pub := priv.PubKey()
			if err := w.KeyStore.AddKey(priv, pub); err != nil {
				return err
			}

			pk := &keystore.PoolKey{
				Time:     w.clock.Now(),
				PubKey:   pub,
				Internal: internal,
				Index:    childIndex,
			}
			poolIndex := w.pool.nextIndex
			w.pool.add(poolIndex, pk)

			pubBytes := pub.SerializeCompressed()
			err = batch.PutPoolKey(poolIndex,
				keystore.SerializePoolKey(pk))
			if err != nil {
				return err
			}
			err = batch.PutHDPubKey(pubBytes,
				hdPubKeyRecord(internal, childIndex))
			if err != nil {
				return err
			}
			meta := &keystore.KeyMetadata{
				CreationTime: w.clock.Now(),
				KeyPath:      derivationPath(internal, childIndex),
			}
			err = batch.PutKeyMeta(pubBytes,
				keystore.SerializeKeyMetadata(meta))
			if err != nil {
				return err
			}
			if w.KeyStore.IsCrypted() {
				crypted, err := w.KeyStore.GetCryptedKey(
					keystore.NewKeyID(pub))
				if err != nil {
					return err
				}
				err = batch.PutCryptedKey(pubBytes, crypted)
				if err != nil {
					return err
				}
			}
			derived++
		}
	}

	// Derivation advanced the chain counters; keep the persisted
	// chain in step so a reload does not rewind them.
	if derived > 0 {
		if hdChain := w.KeyStore.HDChain(); hdChain != nil {
			err := batch.PutHDChain(hdChain.Serialize())
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// TopUpKeyPool refills both key pool branches in one batch.
func (w *Wallet) TopUpKeyPool() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Update(func(b *walletdb.Batch) error {
		return w.topUpKeyPool(b)
	})
}

// KeyReservation is a pool key handed out but not yet committed.  Call
// KeepKey once the key is used or ReturnKey to put it back.
type KeyReservation struct {
	w         *Wallet
	poolIndex uint64
	entry     *keystore.PoolKey
	done      bool
}

// PubKey returns the reserved public key.
func (r *KeyReservation) PubKey() *btcec.PublicKey {
	return r.entry.PubKey
}

// KeepKey commits the reservation, removing the key from the pool for
// good.
func (r *KeyReservation) KeepKey() error {
	if r.done {
		return nil
	}
	r.done = true

	r.w.mu.Lock()
	delete(r.w.pool.entries, r.poolIndex)
	r.w.mu.Unlock()

	return r.w.db.Update(func(b *walletdb.Batch) error {
		return b.DeletePoolKey(r.poolIndex)
	})
}

// ReturnKey puts the reserved key back into the pool.
func (r *KeyReservation) ReturnKey() {
	if r.done {
		return
	}
	r.done = true

	r.w.mu.Lock()
	r.w.pool.set(r.entry.Internal)[r.poolIndex] = struct{}{}
	r.w.mu.Unlock()
}

// ReserveKey takes the oldest available key from a pool branch,
// refilling the pool first when the key store allows it.
func (w *Wallet) ReserveKey(internal bool) (*KeyReservation, error) {
	if !w.KeyStore.IsLocked() {
		if err := w.TopUpKeyPool(); err != nil &&
			!errors.Is(err, keystore.ErrNoHDChain) {

			return nil, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	index, entry, ok := w.pool.reserve(internal)
	if !ok {
		return nil, ErrKeyPoolEmpty
	}
	return &KeyReservation{w: w, poolIndex: index, entry: entry}, nil
}

// NewAddress hands out a fresh receiving address, permanently consuming
// a pool key.
func (w *Wallet) NewAddress() (btcutil.Address, error) {
	reservation, err := w.ReserveKey(false)
	if err != nil {
		return nil, err
	}
	if err := reservation.KeepKey(); err != nil {
		return nil, err
	}
	return w.pubKeyAddress(reservation.PubKey())
}

// pubKeyAddress returns the pay-to-pubkey-hash address for a key.
func (w *Wallet) pubKeyAddress(pub *btcec.PublicKey) (btcutil.Address, error) {
	return btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), w.netParams)
}

// PoolSize returns the available entries per branch.
func (w *Wallet) PoolSize() (external, internal int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pool.external), len(w.pool.internal)
}
