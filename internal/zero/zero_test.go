// Copyright (c) 2015 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero_test

import (
	"math/big"
	"testing"

	"github.com/beam232001/devault/internal/zero"
)

func makeSequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestBytes(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 31, 32, 33, 127, 256, 1000} {
		b := makeSequence(n)
		zero.Bytes(b)
		for i, v := range b {
			if v != 0 {
				t.Errorf("len %d: byte %d not zeroed", n, i)
				break
			}
		}
	}
}

func TestBytea(t *testing.T) {
	var b16 [16]byte
	var b32 [32]byte
	var b64 [64]byte
	copy(b16[:], makeSequence(16))
	copy(b32[:], makeSequence(32))
	copy(b64[:], makeSequence(64))

	zero.Bytea16(&b16)
	zero.Bytea32(&b32)
	zero.Bytea64(&b64)

	for i := range b16 {
		if b16[i] != 0 {
			t.Fatalf("byte %d of 16-byte array not zeroed", i)
		}
	}
	for i := range b32 {
		if b32[i] != 0 {
			t.Fatalf("byte %d of 32-byte array not zeroed", i)
		}
	}
	for i := range b64 {
		if b64[i] != 0 {
			t.Fatalf("byte %d of 64-byte array not zeroed", i)
		}
	}
}

func TestBigInt(t *testing.T) {
	x := new(big.Int).SetBytes(makeSequence(32))
	bits := x.Bits()
	zero.BigInt(x)
	for i, w := range bits {
		if w != 0 {
			t.Fatalf("word %d of big int not zeroed", i)
		}
	}
	if x.Sign() != 0 {
		t.Fatal("big int value not zero")
	}
}
