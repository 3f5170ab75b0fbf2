// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pgpwordlist

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	seed := bytes.Repeat([]byte{0x00, 0x7f, 0xff, 0x2a}, 8)

	words, err := ToString(seed)
	require.NoError(t, err)
	require.Len(t, strings.Fields(words), len(seed))

	decoded, err := ToBytes(words)
	require.NoError(t, err)
	require.Equal(t, seed, decoded)
}

func TestChecksumRoundTrip(t *testing.T) {
	seed := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	words, err := ToStringChecksum(seed)
	require.NoError(t, err)
	require.Len(t, strings.Fields(words), len(seed)+1)

	decoded, err := ToBytesChecksum(words)
	require.NoError(t, err)
	require.Equal(t, seed, decoded)

	// Case is stripped on decode.
	decoded, err = ToBytesChecksum(strings.ToUpper(words))
	require.NoError(t, err)
	require.Equal(t, seed, decoded)
}

func TestChecksumDetectsDamage(t *testing.T) {
	words, err := ToStringChecksum([]byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)

	fields := strings.Fields(words)
	fields[1] = wordAt(0x99, 1)
	_, err = ToBytesChecksum(strings.Join(fields, " "))
	require.Error(t, err)
}

func TestPositionalAlternation(t *testing.T) {
	// The same byte value maps to different words at even and odd
	// positions.
	words, err := ToString([]byte{0x2a, 0x2a})
	require.NoError(t, err)
	fields := strings.Fields(words)
	require.NotEqual(t, fields[0], fields[1])
}

func TestRejectsUnknownWord(t *testing.T) {
	_, err := ToBytes("aardvark xylophone99")
	require.Error(t, err)

	_, err = ToBytes("")
	require.ErrorIs(t, err, ErrEmptyInput)
}
