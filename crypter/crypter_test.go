// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypter

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

var (
	testPassphrase = []byte("correct horse battery staple")
	testSalt       = []byte{1, 2, 3, 4, 5, 6, 7, 8}
)

func testCrypter(t *testing.T, method uint32) *Crypter {
	t.Helper()
	var c Crypter
	err := c.SetKeyFromPassphrase(testPassphrase, testSalt, 25, method)
	require.NoError(t, err)
	return &c
}

func TestSetKeyFromPassphraseErrors(t *testing.T) {
	tests := []struct {
		name   string
		salt   []byte
		rounds uint32
		method uint32
		want   error
	}{
		{"zero rounds", testSalt, 0, DerivationSHA512, ErrInvalidRounds},
		{"short salt", testSalt[:4], 25, DerivationSHA512, ErrInvalidSalt},
		{"long salt", append(testSalt, 9), 25, DerivationSHA512, ErrInvalidSalt},
		{"bad method", testSalt, 25, 42, ErrUnknownMethod},
	}
	for _, test := range tests {
		var c Crypter
		err := c.SetKeyFromPassphrase(testPassphrase, test.salt,
			test.rounds, test.method)
		if err != test.want {
			t.Errorf("%s: got %v, want %v", test.name, err, test.want)
		}
		if _, err := c.Encrypt([]byte("x")); err != ErrKeyNotSet {
			t.Errorf("%s: key usable after failed derivation", test.name)
		}
	}
}

func TestDerivationDeterministic(t *testing.T) {
	c1 := testCrypter(t, DerivationSHA512)
	c2 := testCrypter(t, DerivationSHA512)

	ct1, err := c1.Encrypt([]byte("hello"))
	require.NoError(t, err)
	ct2, err := c2.Encrypt([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, ct1, ct2)

	// A different iteration count must produce a different key.
	var c3 Crypter
	require.NoError(t, c3.SetKeyFromPassphrase(testPassphrase, testSalt,
		26, DerivationSHA512))
	ct3, err := c3.Encrypt([]byte("hello"))
	require.NoError(t, err)
	require.NotEqual(t, ct1, ct3)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, method := range []uint32{DerivationSHA512, DerivationScrypt} {
		c := testCrypter(t, method)
		for size := 0; size <= 64; size++ {
			msg := make([]byte, size)
			for i := range msg {
				msg[i] = byte(i)
			}

			ciphertext, err := c.Encrypt(msg)
			require.NoError(t, err)
			if len(ciphertext) > size+16 {
				t.Fatalf("method %d size %d: ciphertext grew "+
					"by more than one block", method, size)
			}

			plaintext, err := c.Decrypt(ciphertext)
			require.NoError(t, err)
			if !bytes.Equal(plaintext, msg) {
				t.Fatalf("method %d size %d: round trip "+
					"mismatch", method, size)
			}
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	c := testCrypter(t, DerivationSHA512)
	ciphertext, err := c.Encrypt([]byte("secret material here"))
	require.NoError(t, err)

	var other Crypter
	require.NoError(t, other.SetKeyFromPassphrase([]byte("not the pass"),
		testSalt, 25, DerivationSHA512))

	_, err = other.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestDecryptMalformed(t *testing.T) {
	c := testCrypter(t, DerivationSHA512)
	for _, size := range []int{1, 15, 17, 31} {
		_, err := c.Decrypt(make([]byte, size))
		require.ErrorIs(t, err, ErrMalformed)
	}
	_, err := c.Decrypt(nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestZero(t *testing.T) {
	c := testCrypter(t, DerivationSHA512)
	c.Zero()
	if _, err := c.Encrypt([]byte("x")); err != ErrKeyNotSet {
		t.Fatal("crypter usable after Zero")
	}
	for _, b := range c.key {
		if b != 0 {
			t.Fatal("key bytes not scrubbed")
		}
	}
	for _, b := range c.iv {
		if b != 0 {
			t.Fatal("iv bytes not scrubbed")
		}
	}
}

func TestSecretRoundTrip(t *testing.T) {
	master := bytes.Repeat([]byte{7}, KeySize)
	pub := []byte{2, 3, 4}

	ciphertext, err := EncryptSecret(master, []byte("per-key secret"), pub)
	require.NoError(t, err)

	plaintext, err := DecryptSecret(master, ciphertext, pub)
	require.NoError(t, err)
	require.Equal(t, []byte("per-key secret"), plaintext)

	// A different public counterpart yields a different IV and so a
	// failed or garbage decryption, never the original plaintext.
	wrong, err := DecryptSecret(master, ciphertext, []byte{9, 9, 9})
	if err == nil {
		require.NotEqual(t, []byte("per-key secret"), wrong)
	}
}

func TestDecryptKey(t *testing.T) {
	master := bytes.Repeat([]byte{3}, KeySize)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeCompressed()

	crypted, err := EncryptSecret(master, priv.Serialize(), pub)
	require.NoError(t, err)

	recovered, err := DecryptKey(master, crypted, pub)
	require.NoError(t, err)
	require.Equal(t, priv.Serialize(), recovered.Serialize())

	// Swapping in an unrelated pubkey must fail the integrity check.
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	_, err = DecryptKey(master, crypted, other.PubKey().SerializeCompressed())
	require.Error(t, err)
}

func TestMasterKeyMarshal(t *testing.T) {
	mk := &MasterKey{
		CryptedKey:       bytes.Repeat([]byte{0xaa}, 48),
		DerivationMethod: DerivationSHA512,
		DeriveIterations: 25000,
	}
	copy(mk.Salt[:], testSalt)

	var got MasterKey
	require.NoError(t, got.Unmarshal(mk.Marshal()))
	require.Equal(t, mk.CryptedKey, got.CryptedKey)
	require.Equal(t, mk.Salt, got.Salt)
	require.Equal(t, mk.DeriveIterations, got.DeriveIterations)

	// Trailing extension bytes are preserved, not rejected.
	withExt := append(mk.Marshal(), 0xde, 0xad)
	require.NoError(t, got.Unmarshal(withExt))
	require.Equal(t, []byte{0xde, 0xad}, got.OtherParams)

	require.Error(t, new(MasterKey).Unmarshal([]byte{1, 2, 3}))
}
