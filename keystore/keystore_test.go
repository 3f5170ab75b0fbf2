// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/beam232001/devault/crypter"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

var (
	testMaster      = bytes.Repeat([]byte{0x55}, crypter.KeySize)
	testWrongMaster = bytes.Repeat([]byte{0xaa}, crypter.KeySize)
	testSeed        = bytes.Repeat([]byte{0x11}, 32)
)

func TestBasicStore(t *testing.T) {
	s := NewBasic()

	priv, err := GenerateKey()
	require.NoError(t, err)
	pub := priv.PubKey()
	id := NewKeyID(pub)

	require.False(t, s.HaveKey(id))
	require.NoError(t, s.AddKey(priv, pub))
	require.True(t, s.HaveKey(id))

	got, err := s.GetKey(id)
	require.NoError(t, err)
	require.Equal(t, priv.Serialize(), got.Serialize())

	gotPub, err := s.GetPubKey(id)
	require.NoError(t, err)
	require.Equal(t, pub.SerializeCompressed(), gotPub.SerializeCompressed())

	// Adding a key implicitly registers its pay-to-pubkey form.
	p2pk, err := txscript.NewScriptBuilder().
		AddData(pub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)
	require.True(t, s.HaveScript(NewScriptID(p2pk)))
}

func TestWatchOnly(t *testing.T) {
	s := NewBasic()

	priv, err := GenerateKey()
	require.NoError(t, err)
	pub := priv.PubKey()

	p2pk, err := txscript.NewScriptBuilder().
		AddData(pub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	require.NoError(t, s.AddWatchOnly(p2pk))
	require.True(t, s.HaveWatchOnly(p2pk))

	// The embedded pubkey is resolvable despite no private key.
	id := NewKeyID(pub)
	require.False(t, s.HaveKey(id))
	gotPub, err := s.GetPubKey(id)
	require.NoError(t, err)
	require.Equal(t, pub.SerializeCompressed(), gotPub.SerializeCompressed())

	require.NoError(t, s.RemoveWatchOnly(p2pk))
	require.False(t, s.HaveWatchOnly(p2pk))
	_, err = s.GetPubKey(id)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSetCryptedNonEmpty(t *testing.T) {
	s := NewCrypto()

	priv, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, s.AddKey(priv, priv.PubKey()))

	require.ErrorIs(t, s.SetCrypted(), ErrCryptedNotEmpty)
	require.False(t, s.IsCrypted())
}

func TestEncryptLockUnlock(t *testing.T) {
	s := NewCrypto()

	const numKeys = 4
	privs := make(map[KeyID][]byte)
	for i := 0; i < numKeys; i++ {
		priv, err := GenerateKey()
		require.NoError(t, err)
		require.NoError(t, s.AddKey(priv, priv.PubKey()))
		privs[NewKeyID(priv.PubKey())] = priv.Serialize()
	}

	require.NoError(t, s.EncryptKeys(testMaster))
	require.True(t, s.IsCrypted())
	require.False(t, s.IsLocked())

	// Unlocked: every key decrypts back to its original secret.
	for id, want := range privs {
		got, err := s.GetKey(id)
		require.NoError(t, err)
		require.Equal(t, want, got.Serialize())
	}

	require.NoError(t, s.Lock())
	require.True(t, s.IsLocked())

	for id := range privs {
		_, err := s.GetKey(id)
		require.ErrorIs(t, err, ErrLocked)

		// Public halves stay readable while locked.
		_, err = s.GetPubKey(id)
		require.NoError(t, err)
	}

	priv, err := GenerateKey()
	require.NoError(t, err)
	require.ErrorIs(t, s.AddKey(priv, priv.PubKey()), ErrLocked)

	// A wrong master secret is rejected and retains nothing.
	require.ErrorIs(t, s.Unlock(testWrongMaster), ErrWrongPassphrase)
	require.True(t, s.IsLocked())

	require.NoError(t, s.Unlock(testMaster))
	require.False(t, s.IsLocked())
	for id, want := range privs {
		got, err := s.GetKey(id)
		require.NoError(t, err)
		require.Equal(t, want, got.Serialize())
	}
}

func TestHDChainEncryptDecrypt(t *testing.T) {
	mnemonic := []byte("abandon ability able about")
	chain := NewHDChain(testSeed, mnemonic)
	id := chain.ID

	require.NoError(t, chain.Encrypt(testMaster))
	require.True(t, chain.Crypted)
	require.NotEqual(t, testSeed, chain.Seed)
	require.Equal(t, id, chain.ID)

	// Wrong master leaves the chain encrypted.
	err := chain.Decrypt(testWrongMaster)
	require.Error(t, err)
	require.True(t, chain.Crypted)

	require.NoError(t, chain.Decrypt(testMaster))
	require.Equal(t, testSeed, chain.Seed)
	require.Equal(t, mnemonic, chain.Mnemonic)
	require.Equal(t, id, chain.ID)
}

func TestHDChainSerialize(t *testing.T) {
	chain := NewHDChain(testSeed, []byte("phrase"))
	chain.ExternalCounter = 7
	chain.InternalCounter = 3

	got, err := DeserializeHDChain(chain.Serialize())
	require.NoError(t, err)
	require.Equal(t, chain.ID, got.ID)
	require.Equal(t, chain.Seed, got.Seed)
	require.Equal(t, chain.Mnemonic, got.Mnemonic)
	require.Equal(t, chain.ExternalCounter, got.ExternalCounter)
	require.Equal(t, chain.InternalCounter, got.InternalCounter)
	require.False(t, got.Crypted)

	_, err = DeserializeHDChain([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedHDChain)
}

func TestDeserializeHDChainCorruptLengths(t *testing.T) {
	raw := NewHDChain(testSeed, []byte("phrase")).Serialize()

	// Header is id (32) + crypted (1) + two counters (8); the seed
	// length prefix follows it, the mnemonic prefix follows the seed.
	const seedLenOff = 41
	mnemonicLenOff := seedLenOff + 4 + len(testSeed)

	// A huge seed length must be rejected, not chased off the end of
	// the record.
	corrupt := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint32(corrupt[seedLenOff:], 0xffffffff)
	_, err := DeserializeHDChain(corrupt)
	require.ErrorIs(t, err, ErrMalformedHDChain)

	corrupt = append([]byte(nil), raw...)
	binary.LittleEndian.PutUint32(corrupt[mnemonicLenOff:], 0xffffffff)
	_, err = DeserializeHDChain(corrupt)
	require.ErrorIs(t, err, ErrMalformedHDChain)
}

func TestDeriveNextKey(t *testing.T) {
	s := NewCrypto()
	require.NoError(t, s.SetHDChain(NewHDChain(testSeed, nil)))

	// Derivation is deterministic and the counters advance.
	k0, idx0, err := s.DeriveNextKey(false)
	require.NoError(t, err)
	require.Equal(t, uint32(0), idx0)
	k1, idx1, err := s.DeriveNextKey(false)
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx1)
	require.NotEqual(t, k0.Serialize(), k1.Serialize())

	ki0, idx, err := s.DeriveNextKey(true)
	require.NoError(t, err)
	require.Equal(t, uint32(0), idx)
	require.NotEqual(t, k0.Serialize(), ki0.Serialize())

	// A second store over the same seed derives the same children.
	s2 := NewCrypto()
	require.NoError(t, s2.SetHDChain(NewHDChain(testSeed, nil)))
	k0b, _, err := s2.DeriveNextKey(false)
	require.NoError(t, err)
	require.Equal(t, k0.Serialize(), k0b.Serialize())
}

func TestDeriveNextKeyEncrypted(t *testing.T) {
	s := NewCrypto()
	require.NoError(t, s.SetHDChain(NewHDChain(testSeed, nil)))

	plain, _, err := s.DeriveNextKey(false)
	require.NoError(t, err)

	// The same chain, encrypted and unlocked, derives identically.
	s2 := NewCrypto()
	require.NoError(t, s2.SetHDChain(NewHDChain(testSeed, nil)))
	require.NoError(t, s2.EncryptKeys(testMaster))

	enc, _, err := s2.DeriveNextKey(false)
	require.NoError(t, err)
	require.Equal(t, plain.Serialize(), enc.Serialize())

	require.NoError(t, s2.Lock())
	_, _, err = s2.DeriveNextKey(false)
	require.ErrorIs(t, err, ErrLocked)
}

func TestUnlockVerifiesHDChain(t *testing.T) {
	s := NewCrypto()
	priv, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, s.AddKey(priv, priv.PubKey()))
	require.NoError(t, s.SetHDChain(NewHDChain(testSeed, nil)))
	require.NoError(t, s.EncryptKeys(testMaster))
	require.NoError(t, s.Lock())

	require.NoError(t, s.Unlock(testMaster))
	require.NoError(t, s.Lock())

	// Corrupt the chain's recorded identity: the seed no longer
	// hashes to it, so the unlock must fail even though every key
	// decrypts.
	s.hdChain.ID[0] ^= 0xff
	require.Error(t, s.Unlock(testMaster))
	require.True(t, s.IsLocked())
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := &KeyMetadata{
		CreationTime: time.Unix(1566254400, 0),
		KeyPath:      "m/44'/339'/0'/0/7",
	}
	got, err := DeserializeKeyMetadata(SerializeKeyMetadata(meta))
	require.NoError(t, err)
	require.Equal(t, meta.CreationTime.Unix(), got.CreationTime.Unix())
	require.Equal(t, meta.KeyPath, got.KeyPath)

	priv, err := GenerateKey()
	require.NoError(t, err)
	pk := &PoolKey{
		Time:     time.Unix(1566254400, 0),
		PubKey:   priv.PubKey(),
		Internal: true,
		Index:    42,
	}
	gotPK, err := DeserializePoolKey(SerializePoolKey(pk))
	require.NoError(t, err)
	require.Equal(t, pk.Time.Unix(), gotPK.Time.Unix())
	require.True(t, gotPK.Internal)
	require.Equal(t, uint32(42), gotPK.Index)
	require.Equal(t, pk.PubKey.SerializeCompressed(),
		gotPK.PubKey.SerializeCompressed())
}
