// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"errors"

	"github.com/beam232001/devault/crypter"
	"github.com/beam232001/devault/internal/zero"
	"github.com/btcsuite/btcd/btcec/v2"
)

// CryptedKey pairs a public key with the ciphertext of its private
// counterpart.
type CryptedKey struct {
	PubKey  *btcec.PublicKey
	Crypted []byte
}

// Crypto wraps a Basic store and keeps private keys encrypted under a
// master secret.  It moves through three states: plain (encryption not
// yet enabled), crypted-locked (no master secret in memory), and
// crypted-unlocked.  The transition to crypted is one way.
type Crypto struct {
	*Basic

	useCrypto   bool
	masterKey   []byte
	cryptedKeys map[KeyID]CryptedKey

	// thoroughlyChecked records that every encrypted key has been
	// verified against a successful unlock at least once, allowing
	// later unlocks to stop after the first key.
	thoroughlyChecked bool

	hdChain *HDChain
}

// NewCrypto returns a Crypto store in the plain state.
func NewCrypto() *Crypto {
	return &Crypto{
		Basic:       NewBasic(),
		cryptedKeys: make(map[KeyID]CryptedKey),
	}
}

// IsCrypted reports whether encryption has been enabled.
func (s *Crypto) IsCrypted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useCrypto
}

// IsLocked reports whether the store is encrypted with no master secret
// in memory.  A plain store is never locked.
func (s *Crypto) IsLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLocked()
}

func (s *Crypto) isLocked() bool {
	return s.useCrypto && len(s.masterKey) == 0
}

// SetCrypted flips the store into the encrypted state.  It fails if the
// wrapped store still holds plaintext keys, since those would be
// unreachable after the flip.  Used when loading a wallet whose records
// are already ciphertext; live conversion goes through EncryptKeys.
func (s *Crypto) SetCrypted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useCrypto {
		return nil
	}
	if len(s.keys) != 0 {
		return ErrCryptedNotEmpty
	}
	s.useCrypto = true
	return nil
}

// Lock scrubs the in-memory master secret.  Locking a plain store is an
// error.
func (s *Crypto) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.useCrypto {
		return errors.New("cannot lock unencrypted key store")
	}
	zero.Bytes(s.masterKey)
	s.masterKey = nil
	return nil
}

// Unlock verifies the candidate master secret against the stored
// ciphertext and, on success, retains it for key operations.
//
// Every encrypted key is test-decrypted on the first unlock.  If some
// keys decrypt and others do not, the store is internally inconsistent
// in a way that cannot be handled gracefully, so Unlock panics rather
// than let the wallet operate on a subset of its keys.  If no key
// decrypts, the secret is rejected and nothing is retained.  Once a
// full pass has succeeded, later unlocks only verify the first key.
//
// If the store carries an encrypted HD chain, the chain seed must also
// decrypt to its recorded identity for the unlock to succeed.
func (s *Crypto) Unlock(master []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useCrypto {
		return errors.New("key store is not encrypted")
	}

	keyPass := false
	keyFail := false
	for _, ck := range s.cryptedKeys {
		pubBytes := ck.PubKey.SerializeCompressed()
		priv, err := crypter.DecryptKey(master, ck.Crypted, pubBytes)
		if err != nil {
			keyFail = true
			if s.thoroughlyChecked {
				break
			}
			continue
		}
		priv.Zero()
		keyPass = true
		if s.thoroughlyChecked {
			break
		}
	}
	if keyPass && keyFail {
		log.Criticalf("Wallet is probably corrupted: some encrypted " +
			"keys decrypt while others do not")
		panic("partially successful key decryption")
	}
	if keyFail || (!keyPass && len(s.cryptedKeys) > 0) {
		return ErrWrongPassphrase
	}

	if s.hdChain != nil && s.hdChain.Crypted {
		// Verify against a copy so a failure leaves the stored chain
		// encrypted.
		chainCopy := *s.hdChain
		chainCopy.Seed = append([]byte(nil), s.hdChain.Seed...)
		chainCopy.Mnemonic = append([]byte(nil), s.hdChain.Mnemonic...)
		if err := chainCopy.Decrypt(master); err != nil {
			return err
		}
		chainCopy.Zero()
	}

	s.thoroughlyChecked = true
	zero.Bytes(s.masterKey)
	s.masterKey = append([]byte(nil), master...)
	return nil
}

// AddKey inserts a private key, encrypting it first when the store is
// encrypted.  Fails with ErrLocked when no master secret is in memory.
func (s *Crypto) AddKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useCrypto {
		s.keys[NewKeyID(pub)] = priv
		s.learnRelatedScripts(pub)
		return nil
	}
	if s.isLocked() {
		return ErrLocked
	}

	secret := priv.Serialize()
	defer zero.Bytes(secret)
	crypted, err := crypter.EncryptSecret(s.masterKey, secret,
		pub.SerializeCompressed())
	if err != nil {
		return err
	}
	s.addCryptedKey(pub, crypted)
	return nil
}

// AddCryptedKey inserts an already-encrypted private key, e.g. while
// loading from disk.  The ciphertext is taken at face value, so the
// thorough-check marker is reset and the next unlock re-verifies every
// key.
func (s *Crypto) AddCryptedKey(pub *btcec.PublicKey, crypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.useCrypto {
		return errors.New("key store is not encrypted")
	}
	s.addCryptedKey(pub, crypted)
	s.thoroughlyChecked = false
	return nil
}

func (s *Crypto) addCryptedKey(pub *btcec.PublicKey, crypted []byte) {
	s.cryptedKeys[NewKeyID(pub)] = CryptedKey{
		PubKey:  pub,
		Crypted: append([]byte(nil), crypted...),
	}
	s.learnRelatedScripts(pub)
}

// GetKey returns the private key for id, decrypting it when the store
// is encrypted.
func (s *Crypto) GetKey(id KeyID) (*btcec.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.useCrypto {
		priv, ok := s.keys[id]
		if !ok {
			return nil, ErrKeyNotFound
		}
		return priv, nil
	}

	ck, ok := s.cryptedKeys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if s.isLocked() {
		return nil, ErrLocked
	}
	return crypter.DecryptKey(s.masterKey, ck.Crypted,
		ck.PubKey.SerializeCompressed())
}

// HaveKey reports whether the store holds the (possibly encrypted)
// private key for id.
func (s *Crypto) HaveKey(id KeyID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.useCrypto {
		_, ok := s.keys[id]
		return ok
	}
	_, ok := s.cryptedKeys[id]
	return ok
}

// GetPubKey returns the public key for id.  For encrypted keys the
// public half is stored in the clear, so this works while locked.
func (s *Crypto) GetPubKey(id KeyID) (*btcec.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.useCrypto {
		if ck, ok := s.cryptedKeys[id]; ok {
			return ck.PubKey, nil
		}
	}
	if priv, ok := s.keys[id]; ok {
		return priv.PubKey(), nil
	}
	if pub, ok := s.watchKeys[id]; ok {
		return pub, nil
	}
	return nil, ErrKeyNotFound
}

// Keys returns the ids of all keys with (possibly encrypted) private
// material.
func (s *Crypto) Keys() []KeyID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.useCrypto {
		ids := make([]KeyID, 0, len(s.keys))
		for id := range s.keys {
			ids = append(ids, id)
		}
		return ids
	}
	ids := make([]KeyID, 0, len(s.cryptedKeys))
	for id := range s.cryptedKeys {
		ids = append(ids, id)
	}
	return ids
}

// GetCryptedKey returns the stored ciphertext of the private key for
// id.
func (s *Crypto) GetCryptedKey(id KeyID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ck, ok := s.cryptedKeys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return ck.Crypted, nil
}

// CryptedKeys returns the stored ciphertext key records, e.g. for
// persistence.
func (s *Crypto) CryptedKeys() []CryptedKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cks := make([]CryptedKey, 0, len(s.cryptedKeys))
	for _, ck := range s.cryptedKeys {
		cks = append(cks, ck)
	}
	return cks
}

// EncryptKeys converts a plain store to an encrypted one, encrypting
// every plaintext key and the HD chain under master.  The store is left
// unlocked with master retained; callers lock it explicitly.  The
// conversion is one way.
func (s *Crypto) EncryptKeys(master []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.useCrypto {
		return errors.New("key store is already encrypted")
	}

	for _, priv := range s.keys {
		pub := priv.PubKey()
		secret := priv.Serialize()
		crypted, err := crypter.EncryptSecret(master, secret,
			pub.SerializeCompressed())
		zero.Bytes(secret)
		if err != nil {
			return err
		}
		s.cryptedKeys[NewKeyID(pub)] = CryptedKey{
			PubKey:  pub,
			Crypted: crypted,
		}
	}
	for id, priv := range s.keys {
		priv.Zero()
		delete(s.keys, id)
	}

	if s.hdChain != nil && !s.hdChain.Crypted {
		if err := s.hdChain.Encrypt(master); err != nil {
			return err
		}
	}

	s.useCrypto = true
	s.thoroughlyChecked = true
	s.masterKey = append([]byte(nil), master...)
	return nil
}

// SetHDChain installs the store's deterministic chain.  An encrypted
// chain may be installed on an encrypted store only; the reverse holds
// for a plaintext chain on a plain store.
func (s *Crypto) SetHDChain(chain *HDChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chain.Crypted != s.useCrypto {
		return errors.New("hd chain encryption state does not match store")
	}
	s.hdChain = chain
	return nil
}

// HDChain returns the installed chain, or nil.
func (s *Crypto) HDChain() *HDChain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hdChain
}

// DeriveNextKey derives the next unused child key on the external or
// internal branch, advancing the branch counter.  On an encrypted store
// the seed is decrypted transiently and scrubbed before returning; the
// derived private key is returned in the clear for the caller to add to
// the store.
func (s *Crypto) DeriveNextKey(internal bool) (*btcec.PrivateKey, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hdChain == nil {
		return nil, 0, ErrNoHDChain
	}
	if s.isLocked() {
		return nil, 0, ErrLocked
	}

	branch := ExternalBranch
	if internal {
		branch = InternalBranch
	}
	index := s.hdChain.NextIndex(internal)

	chain := s.hdChain
	if chain.Crypted {
		tmp := *chain
		tmp.Seed = append([]byte(nil), chain.Seed...)
		tmp.Mnemonic = append([]byte(nil), chain.Mnemonic...)
		if err := tmp.Decrypt(s.masterKey); err != nil {
			return nil, 0, err
		}
		defer tmp.Zero()
		chain = &tmp
	}

	priv, err := chain.DeriveKey(branch, index)
	if err != nil {
		return nil, 0, err
	}
	return priv, index, nil
}
