// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keystore implements the wallet's layered key container.  The
// Basic store holds plaintext keys, watch-only public keys, and scripts.
// The Crypto store wraps a Basic store and intercepts the operations that
// need key material, keeping every private key encrypted under a master
// secret except transiently during signing.
package keystore

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrLocked is returned when an operation needs private key
	// material while the store is locked.
	ErrLocked = errors.New("key store is locked")

	// ErrKeyNotFound is returned when the requested key is not in the
	// store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrCryptedNotEmpty is returned by SetCrypted when the store
	// already holds plaintext keys.  Converting such a store would
	// silently orphan those keys the next time it is reloaded.
	ErrCryptedNotEmpty = errors.New("cannot encrypt nonempty plain store")

	// ErrWrongPassphrase is returned when the candidate master key
	// fails to decrypt the stored keys.
	ErrWrongPassphrase = errors.New("master key does not decrypt stored keys")
)

// KeyID identifies a key by the RIPEMD160(SHA256) hash of its serialized
// compressed public key.
type KeyID [20]byte

// NewKeyID returns the KeyID for a public key.
func NewKeyID(pub *btcec.PublicKey) KeyID {
	var id KeyID
	copy(id[:], btcutil.Hash160(pub.SerializeCompressed()))
	return id
}

// ScriptID identifies a script by its RIPEMD160(SHA256) hash.
type ScriptID [20]byte

// NewScriptID returns the ScriptID for a raw script.
func NewScriptID(script []byte) ScriptID {
	var id ScriptID
	copy(id[:], btcutil.Hash160(script))
	return id
}

// Store is the capability surface shared by the plain and encrypted key
// containers.  Operations returning key material fail with ErrLocked on
// an encrypted store without its master secret in memory.
type Store interface {
	// AddKey inserts a private key and its public counterpart.
	AddKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) error

	// GetKey returns the private key for id.
	GetKey(id KeyID) (*btcec.PrivateKey, error)

	// HaveKey reports whether the store holds the private key for id.
	HaveKey(id KeyID) bool

	// GetPubKey returns the public key for id.  Watch-only public
	// keys are consulted as well, so success does not imply signing
	// capability.
	GetPubKey(id KeyID) (*btcec.PublicKey, error)

	// Keys returns the ids of all keys with private material.
	Keys() []KeyID
}

// Basic is the plaintext key store.  It also tracks watch-only public
// keys and scripts, which carry no signing capability.
type Basic struct {
	mu sync.RWMutex

	keys         map[KeyID]*btcec.PrivateKey
	watchKeys    map[KeyID]*btcec.PublicKey
	watchScripts map[ScriptID][]byte
	scripts      map[ScriptID][]byte
}

// NewBasic returns an empty plaintext key store.
func NewBasic() *Basic {
	return &Basic{
		keys:         make(map[KeyID]*btcec.PrivateKey),
		watchKeys:    make(map[KeyID]*btcec.PublicKey),
		watchScripts: make(map[ScriptID][]byte),
		scripts:      make(map[ScriptID][]byte),
	}
}

// learnRelatedScripts registers the alternative spending forms derivable
// from a public key so that outputs paying any of them are recognized.
// Superfluous scripts never hurt; they only guide recognition and
// signing.  Errors are deliberately swallowed: this is a side effect of
// key insertion and must never fail it.
func (b *Basic) learnRelatedScripts(pub *btcec.PublicKey) {
	p2pk, err := txscript.NewScriptBuilder().
		AddData(pub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return
	}
	b.scripts[NewScriptID(p2pk)] = p2pk
}

// AddKey inserts a private key into the store.
func (b *Basic) AddKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[NewKeyID(pub)] = priv
	b.learnRelatedScripts(pub)
	return nil
}

// GetKey returns the private key for id.
func (b *Basic) GetKey(id KeyID) (*btcec.PrivateKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	priv, ok := b.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return priv, nil
}

// HaveKey reports whether the store holds the private key for id.
func (b *Basic) HaveKey(id KeyID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.keys[id]
	return ok
}

// GetPubKey returns the public key for id, consulting the watch-only
// registry when no private key is present.
func (b *Basic) GetPubKey(id KeyID) (*btcec.PublicKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if priv, ok := b.keys[id]; ok {
		return priv.PubKey(), nil
	}
	if pub, ok := b.watchKeys[id]; ok {
		return pub, nil
	}
	return nil, ErrKeyNotFound
}

// Keys returns the ids of all keys with private material.
func (b *Basic) Keys() []KeyID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]KeyID, 0, len(b.keys))
	for id := range b.keys {
		ids = append(ids, id)
	}
	return ids
}

// AddWatchOnly registers a script for balance visibility without
// signing capability.  If the script is a bare pay-to-pubkey script,
// the embedded public key becomes resolvable through GetPubKey.
func (b *Basic) AddWatchOnly(script []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchScripts[NewScriptID(script)] = append([]byte(nil), script...)
	if pub := extractPubKey(script); pub != nil {
		b.watchKeys[NewKeyID(pub)] = pub
		b.learnRelatedScripts(pub)
	}
	return nil
}

// RemoveWatchOnly forgets a previously watched script.  Related scripts
// learned from its pubkey are not removed; superfluous scripts are
// harmless.
func (b *Basic) RemoveWatchOnly(script []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watchScripts, NewScriptID(script))
	if pub := extractPubKey(script); pub != nil {
		delete(b.watchKeys, NewKeyID(pub))
	}
	return nil
}

// HaveWatchOnly reports whether the exact script is being watched.
func (b *Basic) HaveWatchOnly(script []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.watchScripts[NewScriptID(script)]
	return ok
}

// WatchedScripts returns all watch-only scripts.
func (b *Basic) WatchedScripts() [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	scripts := make([][]byte, 0, len(b.watchScripts))
	for _, s := range b.watchScripts {
		scripts = append(scripts, s)
	}
	return scripts
}

// AddScript registers a redeem script.
func (b *Basic) AddScript(script []byte) error {
	if len(script) > txscript.MaxScriptElementSize {
		return errors.New("redeem script exceeds maximum element size")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[NewScriptID(script)] = append([]byte(nil), script...)
	return nil
}

// GetScript returns the redeem script with the given id.
func (b *Basic) GetScript(id ScriptID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	script, ok := b.scripts[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return script, nil
}

// HaveScript reports whether the store knows the script with the given
// id.
func (b *Basic) HaveScript(id ScriptID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.scripts[id]
	return ok
}

// GenerateKey returns a fresh random private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// extractPubKey recognizes bare pay-to-pubkey scripts of the form
// <pubkey> OP_CHECKSIG and returns the embedded key, or nil.
func extractPubKey(script []byte) *btcec.PublicKey {
	if len(script) < 35 || script[len(script)-1] != txscript.OP_CHECKSIG {
		return nil
	}
	push := int(script[0])
	if push != 33 && push != 65 {
		return nil
	}
	if len(script) != push+2 {
		return nil
	}
	pub, err := btcec.ParsePubKey(script[1 : 1+push])
	if err != nil {
		return nil
	}
	return pub
}
