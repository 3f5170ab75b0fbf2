// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"encoding/binary"
	"errors"

	"github.com/beam232001/devault/crypter"
	"github.com/beam232001/devault/internal/zero"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BIP44 path constants for derived wallet keys: m/44'/coinType'/0'/branch/index.
const (
	Bip44Purpose  = 44
	Bip44CoinType = 339
	Bip44Account  = 0

	// ExternalBranch derives receiving addresses, InternalBranch change
	// addresses.
	ExternalBranch uint32 = 0
	InternalBranch uint32 = 1
)

var (
	// ErrNoHDChain is returned when a derivation is requested but the
	// store has no HD chain.
	ErrNoHDChain = errors.New("key store has no HD chain")

	// ErrHDChainMismatch describes a decrypted HD seed whose hash does
	// not match the chain's recorded identity.  The master key is wrong
	// or the record is corrupt.
	ErrHDChainMismatch = errors.New("decrypted seed does not match chain id")

	// ErrMalformedHDChain describes an HD chain record that cannot be
	// decoded.
	ErrMalformedHDChain = errors.New("malformed hd chain record")
)

// HDChain holds the wallet's deterministic seed and the per-branch
// counters tracking how many children have been handed out.  When
// Crypted is set, Seed and Mnemonic hold ciphertext instead of secret
// material and ID is the only trustworthy identity.
type HDChain struct {
	// ID is the double-SHA256 of the plaintext seed.  It identifies
	// the chain without revealing the seed and is the IV source for
	// the chain's encrypted secrets.
	ID chainhash.Hash

	// Seed is the BIP32 master seed, or its ciphertext when Crypted.
	Seed []byte

	// Mnemonic is the optional recovery phrase the seed was generated
	// from, or its ciphertext when Crypted.  May be empty.
	Mnemonic []byte

	// ExternalCounter and InternalCounter are the next unused child
	// indexes on the receiving and change branches.
	ExternalCounter uint32
	InternalCounter uint32

	// Crypted indicates Seed and Mnemonic are encrypted.
	Crypted bool
}

// NewHDChain builds a plaintext chain around seed, recording its
// identity hash.  The mnemonic may be nil.
func NewHDChain(seed, mnemonic []byte) *HDChain {
	return &HDChain{
		ID:       chainhash.DoubleHashH(seed),
		Seed:     append([]byte(nil), seed...),
		Mnemonic: append([]byte(nil), mnemonic...),
	}
}

// seedHash returns the identity hash of the plaintext seed.
func (c *HDChain) seedHash() chainhash.Hash {
	return chainhash.DoubleHashH(c.Seed)
}

// Zero scrubs the chain's secret material.
func (c *HDChain) Zero() {
	zero.Bytes(c.Seed)
	zero.Bytes(c.Mnemonic)
	c.Seed = nil
	c.Mnemonic = nil
}

// Encrypt replaces the seed and mnemonic with their ciphertext under
// master, using the chain identity as the IV source.  An empty mnemonic
// stays empty.  Encrypting an already-encrypted chain is an error.
func (c *HDChain) Encrypt(master []byte) error {
	if c.Crypted {
		return errors.New("hd chain is already encrypted")
	}

	cryptedSeed, err := crypter.EncryptSecret(master, c.Seed, c.ID[:])
	if err != nil {
		return err
	}
	var cryptedMnemonic []byte
	if len(c.Mnemonic) > 0 {
		cryptedMnemonic, err = crypter.EncryptSecret(master, c.Mnemonic,
			c.ID[:])
		if err != nil {
			return err
		}
	}

	zero.Bytes(c.Seed)
	zero.Bytes(c.Mnemonic)
	c.Seed = cryptedSeed
	c.Mnemonic = cryptedMnemonic
	c.Crypted = true
	return nil
}

// Decrypt reverses Encrypt and verifies that the recovered seed hashes
// to the chain's recorded identity.  On any failure the chain is left
// encrypted and unchanged.
func (c *HDChain) Decrypt(master []byte) error {
	if !c.Crypted {
		return errors.New("hd chain is not encrypted")
	}

	seed, err := crypter.DecryptSecret(master, c.Seed, c.ID[:])
	if err != nil {
		return err
	}
	if chainhash.DoubleHashH(seed) != c.ID {
		zero.Bytes(seed)
		return ErrHDChainMismatch
	}

	var mnemonic []byte
	if len(c.Mnemonic) > 0 {
		mnemonic, err = crypter.DecryptSecret(master, c.Mnemonic, c.ID[:])
		if err != nil {
			zero.Bytes(seed)
			return err
		}
	}

	c.Seed = seed
	c.Mnemonic = mnemonic
	c.Crypted = false
	return nil
}

// DeriveKey derives the child private key at
// m/44'/coinType'/account'/branch/index from the plaintext seed.
func (c *HDChain) DeriveKey(branch, index uint32) (*btcec.PrivateKey, error) {
	if c.Crypted {
		return nil, ErrLocked
	}
	if len(c.Seed) == 0 {
		return nil, ErrNoHDChain
	}

	root, err := hdkeychain.NewMaster(c.Seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	defer root.Zero()

	path := []uint32{
		hdkeychain.HardenedKeyStart + Bip44Purpose,
		hdkeychain.HardenedKeyStart + Bip44CoinType,
		hdkeychain.HardenedKeyStart + Bip44Account,
		branch,
		index,
	}
	key := root
	for _, child := range path {
		derived, err := key.Derive(child)
		if key != root {
			key.Zero()
		}
		if err != nil {
			return nil, err
		}
		key = derived
	}
	defer key.Zero()

	return key.ECPrivKey()
}

// NextIndex returns the next unused child index on a branch and advances
// the counter.
func (c *HDChain) NextIndex(internal bool) uint32 {
	if internal {
		idx := c.InternalCounter
		c.InternalCounter++
		return idx
	}
	idx := c.ExternalCounter
	c.ExternalCounter++
	return idx
}

// Serialize encodes the chain for storage:
//
//	<id><crypted u8><extCounter u32le><intCounter u32le>
//	<seedLen u32le><seed><mnemonicLen u32le><mnemonic>
func (c *HDChain) Serialize() []byte {
	buf := make([]byte, 0, chainhash.HashSize+1+4+4+4+len(c.Seed)+
		4+len(c.Mnemonic))
	var u32 [4]byte

	buf = append(buf, c.ID[:]...)
	if c.Crypted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	binary.LittleEndian.PutUint32(u32[:], c.ExternalCounter)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], c.InternalCounter)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(c.Seed)))
	buf = append(buf, u32[:]...)
	buf = append(buf, c.Seed...)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(c.Mnemonic)))
	buf = append(buf, u32[:]...)
	buf = append(buf, c.Mnemonic...)
	return buf
}

// DeserializeHDChain decodes a chain record produced by Serialize.
func DeserializeHDChain(b []byte) (*HDChain, error) {
	if len(b) < chainhash.HashSize+1+4+4+4 {
		return nil, ErrMalformedHDChain
	}
	var c HDChain
	copy(c.ID[:], b[:chainhash.HashSize])
	b = b[chainhash.HashSize:]
	c.Crypted = b[0] != 0
	c.ExternalCounter = binary.LittleEndian.Uint32(b[1:5])
	c.InternalCounter = binary.LittleEndian.Uint32(b[5:9])
	b = b[9:]

	// Length prefixes come from disk; compare in 64 bits so a bogus
	// length cannot wrap the bounds check.
	seedLen := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(seedLen)+4 > uint64(len(b)) {
		return nil, ErrMalformedHDChain
	}
	c.Seed = append([]byte(nil), b[:seedLen]...)
	b = b[seedLen:]

	mnemonicLen := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(mnemonicLen) > uint64(len(b)) {
		return nil, ErrMalformedHDChain
	}
	c.Mnemonic = append([]byte(nil), b[:mnemonicLen]...)
	return &c, nil
}
