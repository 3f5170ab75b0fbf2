// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypter

import (
	"encoding/binary"
	"errors"
)

// MasterKey is the persisted form of the wallet's master secret: the
// random inner key encrypted under a passphrase-derived outer key, along
// with the parameters needed to re-derive that outer key.  None of the
// fields are secret and the record may be stored in plaintext.
type MasterKey struct {
	CryptedKey       []byte
	Salt             [SaltSize]byte
	DerivationMethod uint32
	DeriveIterations uint32

	// OtherParams carries method-specific parameters for future
	// derivation schemes.  It is preserved verbatim across load/store.
	OtherParams []byte
}

// ErrMalformedMasterKey describes a master key record too short to
// contain its fixed fields.
var ErrMalformedMasterKey = errors.New("malformed master key record")

// Marshal returns the serialized master key record:
//
//	<method><iterations><salt><cryptedLen><crypted>[otherParams]
//
// Trailing bytes beyond the crypted key are an extension blob that
// Unmarshal preserves without interpreting.
func (mk *MasterKey) Marshal() []byte {
	buf := make([]byte, 0, 4+4+SaltSize+4+len(mk.CryptedKey)+len(mk.OtherParams))
	var u32 [4]byte

	binary.LittleEndian.PutUint32(u32[:], mk.DerivationMethod)
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], mk.DeriveIterations)
	buf = append(buf, u32[:]...)
	buf = append(buf, mk.Salt[:]...)
	binary.LittleEndian.PutUint32(u32[:], uint32(len(mk.CryptedKey)))
	buf = append(buf, u32[:]...)
	buf = append(buf, mk.CryptedKey...)
	buf = append(buf, mk.OtherParams...)
	return buf
}

// Unmarshal decodes a serialized master key record.
func (mk *MasterKey) Unmarshal(b []byte) error {
	if len(b) < 4+4+SaltSize+4 {
		return ErrMalformedMasterKey
	}
	mk.DerivationMethod = binary.LittleEndian.Uint32(b[0:4])
	mk.DeriveIterations = binary.LittleEndian.Uint32(b[4:8])
	copy(mk.Salt[:], b[8:8+SaltSize])
	b = b[8+SaltSize:]

	cryptedLen := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < cryptedLen {
		return ErrMalformedMasterKey
	}
	mk.CryptedKey = append([]byte(nil), b[:cryptedLen]...)
	mk.OtherParams = append([]byte(nil), b[cryptedLen:]...)
	return nil
}
