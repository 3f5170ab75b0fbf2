// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package crypter provides the symmetric encryption primitives used to
// protect wallet key material.  A master key is derived from a user
// passphrase with a salted, iterated hash and is used to encrypt each
// secret under a per-record IV taken from the hash of the record's
// public counterpart.
package crypter

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"errors"

	"github.com/beam232001/devault/internal/zero"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the size in bytes of the symmetric key derived from a
	// passphrase.
	KeySize = 32

	// IVSize is the size in bytes of the initialization vector.  This
	// matches the AES block size.
	IVSize = 16

	// SaltSize is the required size in bytes of the passphrase salt.
	SaltSize = 8

	// DerivationSHA512 derives the key by repeated SHA-512 hashing of
	// the passphrase and salt.  This mimics OpenSSL's EVP_BytesToKey
	// with an aes256cbc cipher and sha512 digest.
	DerivationSHA512 = 0

	// DerivationScrypt derives the key with scrypt using the default
	// parameters below.
	DerivationScrypt = 1

	// Default scrypt parameters for DerivationScrypt.
	ScryptN = 16384 // 2^14
	ScryptR = 8
	ScryptP = 1
)

var (
	// ErrInvalidRounds describes a key derivation request with an
	// iteration count below one.
	ErrInvalidRounds = errors.New("iteration count must be at least 1")

	// ErrInvalidSalt describes a salt of the wrong size.
	ErrInvalidSalt = errors.New("salt is not 8 bytes")

	// ErrKeyNotSet is returned when encrypting or decrypting before a
	// key has been derived or set.
	ErrKeyNotSet = errors.New("cipher key is not set")

	// ErrMalformed describes ciphertext that cannot possibly be valid,
	// e.g. input that is not a whole number of cipher blocks.
	ErrMalformed = errors.New("malformed ciphertext")

	// ErrDecryptFailed is returned when decryption produces an invalid
	// padding.  No partial plaintext is ever returned alongside it.
	ErrDecryptFailed = errors.New("unable to decrypt")

	// ErrKeyMismatch describes a decrypted secret whose derived public
	// key does not match the stored public key.  Callers must treat
	// this as record corruption.
	ErrKeyMismatch = errors.New("decrypted key does not match public key")

	// ErrUnknownMethod describes an unsupported derivation method.
	ErrUnknownMethod = errors.New("unknown derivation method")
)

// Crypter performs AES-256-CBC encryption and decryption under a key and
// IV derived from a passphrase or set directly from raw keying material.
// The zero value is unusable until one of the SetKey methods succeeds.
type Crypter struct {
	key    [KeySize]byte
	iv     [IVSize]byte
	keySet bool
}

// bytesToKeySHA512 fills key and iv from the passphrase and salt by
// hashing the concatenation once and then re-hashing the digest
// rounds-1 more times.  SHA-512's output covers the key and IV in a
// single digest, so no multi-block expansion is needed.
func (c *Crypter) bytesToKeySHA512(passphrase, salt []byte, rounds uint32) {
	var buf [sha512.Size]byte
	h := sha512.New()
	h.Write(passphrase)
	h.Write(salt)
	h.Sum(buf[:0])
	for i := uint32(1); i < rounds; i++ {
		h.Reset()
		h.Write(buf[:])
		h.Sum(buf[:0])
	}
	copy(c.key[:], buf[:KeySize])
	copy(c.iv[:], buf[KeySize:KeySize+IVSize])
	zero.Bytea64(&buf)
}

// SetKeyFromPassphrase derives the cipher key and IV from a passphrase
// using the given salt, iteration count, and derivation method.  It
// fails without touching existing key material if the iteration count
// is below one or the salt is not SaltSize bytes.
func (c *Crypter) SetKeyFromPassphrase(passphrase, salt []byte, rounds,
	method uint32) error {

	if rounds < 1 {
		return ErrInvalidRounds
	}
	if len(salt) != SaltSize {
		return ErrInvalidSalt
	}

	switch method {
	case DerivationSHA512:
		c.bytesToKeySHA512(passphrase, salt, rounds)

	case DerivationScrypt:
		derived, err := scrypt.Key(passphrase, salt, ScryptN, ScryptR,
			ScryptP, KeySize+IVSize)
		if err != nil {
			return err
		}
		copy(c.key[:], derived[:KeySize])
		copy(c.iv[:], derived[KeySize:])
		zero.Bytes(derived)

	default:
		return ErrUnknownMethod
	}

	c.keySet = true
	return nil
}

// SetKey sets the cipher key and IV directly from raw keying material.
func (c *Crypter) SetKey(key, iv []byte) error {
	if len(key) != KeySize || len(iv) != IVSize {
		return ErrMalformed
	}
	copy(c.key[:], key)
	copy(c.iv[:], iv)
	c.keySet = true
	return nil
}

// Encrypt encrypts the plaintext with AES-256-CBC and PKCS#7 padding.
// The ciphertext is at most one block longer than the plaintext.
func (c *Crypter) Encrypt(plaintext []byte) ([]byte, error) {
	if !c.keySet {
		return nil, ErrKeyNotSet
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv[:]).CryptBlocks(ciphertext, padded)
	zero.Bytes(padded)
	return ciphertext, nil
}

// Decrypt reverses Encrypt.  It returns ErrDecryptFailed on any padding
// or format mismatch and never returns partial plaintext.
func (c *Crypter) Decrypt(ciphertext []byte) ([]byte, error) {
	if !c.keySet {
		return nil, ErrKeyNotSet
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformed
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv[:]).CryptBlocks(plaintext, ciphertext)

	pad := int(plaintext[len(plaintext)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(plaintext) {
		zero.Bytes(plaintext)
		return nil, ErrDecryptFailed
	}
	for _, b := range plaintext[len(plaintext)-pad:] {
		if int(b) != pad {
			zero.Bytes(plaintext)
			return nil, ErrDecryptFailed
		}
	}

	return plaintext[:len(plaintext)-pad], nil
}

// Zero clears the cipher key and IV from memory.  The Crypter is
// unusable afterwards until a key is set again.
func (c *Crypter) Zero() {
	zero.Bytea32(&c.key)
	zero.Bytea16(&c.iv)
	c.keySet = false
}

// IVFromHash returns the per-record IV for a secret: the leading IVSize
// bytes of the double-SHA256 of the record's public material.
func IVFromHash(public []byte) []byte {
	h := chainhash.DoubleHashB(public)
	return h[:IVSize]
}

// EncryptSecret encrypts secret under the master key using an IV
// derived from the associated public material.
func EncryptSecret(master, secret, public []byte) ([]byte, error) {
	var c Crypter
	defer c.Zero()
	if err := c.SetKey(master, IVFromHash(public)); err != nil {
		return nil, err
	}
	return c.Encrypt(secret)
}

// DecryptSecret reverses EncryptSecret.
func DecryptSecret(master, ciphertext, public []byte) ([]byte, error) {
	var c Crypter
	defer c.Zero()
	if err := c.SetKey(master, IVFromHash(public)); err != nil {
		return nil, err
	}
	return c.Decrypt(ciphertext)
}

// DecryptKey decrypts an encrypted private key and verifies that the
// recovered secret produces the expected public key.  A mismatch means
// the record or the master key is corrupt and is reported as
// ErrKeyMismatch.
func DecryptKey(master, crypted, pubKey []byte) (*btcec.PrivateKey, error) {
	secret, err := DecryptSecret(master, crypted, pubKey)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(secret)

	if len(secret) != 32 {
		return nil, ErrKeyMismatch
	}

	priv, pub := btcec.PrivKeyFromBytes(secret)
	if !bytes.Equal(pub.SerializeCompressed(), pubKey) &&
		!bytes.Equal(pub.SerializeUncompressed(), pubKey) {

		return nil, ErrKeyMismatch
	}
	return priv, nil
}
