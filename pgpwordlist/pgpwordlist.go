// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pgpwordlist encodes seed material as human-transcribable
// mnemonics using the PGP word list.  Even and odd byte positions use
// alternating halves of the list, which catches transposed words.
package pgpwordlist

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyInput describes an encode or decode of no data.
var ErrEmptyInput = errors.New("no data to encode or decode")

// checksumByte is the first byte of the double-SHA256 of the data.
func checksumByte(data []byte) byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[0]
}

// wordAt returns the list word for a byte at the given position.
func wordAt(b byte, position int) string {
	idx := uint16(b) * 2
	if position%2 != 0 {
		idx++
	}
	return WordList[idx]
}

// ToString converts a byte slice to a string of words from the PGP
// word list.
func ToString(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}

	words := make([]string, len(data))
	for i, b := range data {
		words[i] = wordAt(b, i)
	}
	return strings.Join(words, " "), nil
}

// ToStringChecksum converts a byte slice to a string of words from the
// PGP word list with a one word checksum appended.
func ToStringChecksum(data []byte) (string, error) {
	str, err := ToString(data)
	if err != nil {
		return "", err
	}
	return str + " " + wordAt(checksumByte(data), len(data)), nil
}

// ToBytes converts a string of words from the PGP word list back to a
// byte slice.  Word case is ignored.
func ToBytes(s string) ([]byte, error) {
	words := strings.Fields(strings.ToLower(s))
	if len(words) == 0 {
		return nil, ErrEmptyInput
	}

	data := make([]byte, len(words))
	for i, w := range words {
		idx, ok := WordMap[w]
		if !ok {
			return nil, fmt.Errorf("unidentifiable word %q", w)
		}
		data[i] = byte(idx / 2)
	}
	return data, nil
}

// ToBytesChecksum converts a string of words back to a byte slice and
// verifies the trailing checksum word against the decoded data.
func ToBytesChecksum(s string) ([]byte, error) {
	decoded, err := ToBytes(s)
	if err != nil {
		return nil, err
	}
	if len(decoded) < 2 {
		return nil, errors.New("word list too short for a checksum")
	}
	data := decoded[:len(decoded)-1]

	want := wordAt(checksumByte(data), len(data))
	words := strings.Fields(strings.ToLower(s))
	got := words[len(words)-1]
	if got != strings.ToLower(want) {
		return nil, fmt.Errorf("checksum failure: got %v, expected %v",
			got, want)
	}
	return data, nil
}
