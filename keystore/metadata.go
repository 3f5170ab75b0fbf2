// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// KeyMetadata records non-secret bookkeeping for a key: when it was
// created and, for derived keys, its derivation path.  Creation times
// bound rescans for funds sent to the key.
type KeyMetadata struct {
	CreationTime time.Time

	// KeyPath is the textual derivation path, e.g. "m/44'/339'/0'/0/7",
	// or empty for imported keys.
	KeyPath string
}

// SerializeKeyMetadata encodes metadata as
// <unix time u64le><pathLen u32le><path>.
func SerializeKeyMetadata(meta *KeyMetadata) []byte {
	buf := make([]byte, 8+4+len(meta.KeyPath))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(meta.CreationTime.Unix()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(meta.KeyPath)))
	copy(buf[12:], meta.KeyPath)
	return buf
}

// DeserializeKeyMetadata decodes a record produced by
// SerializeKeyMetadata.
func DeserializeKeyMetadata(b []byte) (*KeyMetadata, error) {
	if len(b) < 12 {
		return nil, errors.New("malformed key metadata record")
	}
	pathLen := binary.LittleEndian.Uint32(b[8:12])
	if uint32(len(b)-12) < pathLen {
		return nil, errors.New("malformed key metadata record")
	}
	return &KeyMetadata{
		CreationTime: time.Unix(int64(binary.LittleEndian.Uint64(b[0:8])), 0),
		KeyPath:      string(b[12 : 12+pathLen]),
	}, nil
}

// PoolKey is a pre-derived key waiting in the keypool to be handed out
// as an address.  Only the public half lives here; the private half is
// in the key store under the pubkey's id.
type PoolKey struct {
	Time     time.Time
	PubKey   *btcec.PublicKey
	Internal bool
	Index    uint32
}

// SerializePoolKey encodes a keypool entry as
// <unix time u64le><internal u8><index u32le><pubkey 33>.
func SerializePoolKey(pk *PoolKey) []byte {
	pub := pk.PubKey.SerializeCompressed()
	buf := make([]byte, 8+1+4+len(pub))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(pk.Time.Unix()))
	if pk.Internal {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint32(buf[9:13], pk.Index)
	copy(buf[13:], pub)
	return buf
}

// DeserializePoolKey decodes a record produced by SerializePoolKey.
func DeserializePoolKey(b []byte) (*PoolKey, error) {
	if len(b) < 8+1+4+33 {
		return nil, errors.New("malformed keypool record")
	}
	pub, err := btcec.ParsePubKey(b[13 : 13+33])
	if err != nil {
		return nil, err
	}
	return &PoolKey{
		Time:     time.Unix(int64(binary.LittleEndian.Uint64(b[0:8])), 0),
		Internal: b[8] != 0,
		Index:    binary.LittleEndian.Uint32(b[9:13]),
		PubKey:   pub,
	}, nil
}
