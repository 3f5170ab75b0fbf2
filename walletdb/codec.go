// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletdb

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/wire"
)

// Record types.  Every database key starts with one of these strings,
// length-prefixed, followed by a type-specific payload that makes the
// key unique.
const (
	RecName              = "name"
	RecPurpose           = "purpose"
	RecTx                = "tx"
	RecCryptedKey        = "ckey"
	RecKeyMeta           = "keymeta"
	RecMasterKey         = "mkey"
	RecScript            = "cscript"
	RecWatchScript       = "watchs"
	RecWatchMeta         = "watchmeta"
	RecPool              = "pool"
	RecAcentry           = "acentry"
	RecDestData          = "destdata"
	RecHDChain           = "chdchain"
	RecHDPubKey          = "hdpubkey"
	RecOrderPosNext      = "orderposnext"
	RecMinVersion        = "minversion"
	RecBestBlock         = "bestblock"
	RecBestBlockNoMerkle = "bestblock_nomerkle"
	RecVersion           = "version"
	RecDefaultKey        = "defaultkey"
)

// ErrMalformedKey describes a database key that cannot be decoded.
var ErrMalformedKey = errors.New("malformed record key")

// isKeyType reports whether losing a record of this type loses key
// material, making the database unrecoverable without a backup.
func isKeyType(recordType string) bool {
	switch recordType {
	case RecMasterKey, RecCryptedKey, RecHDChain:
		return true
	}
	return false
}

// recordKey builds a database key from a record type and the payload
// distinguishing records of that type.  Types without multiplicity use
// an empty payload.
func recordKey(recordType string, payload []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, recordType)
	buf.Write(payload)
	return buf.Bytes()
}

// parseRecordKey splits a database key into its record type and
// payload.
func parseRecordKey(key []byte) (string, []byte, error) {
	r := bytes.NewReader(key)
	recordType, err := wire.ReadVarString(r, 0)
	if err != nil {
		return "", nil, ErrMalformedKey
	}
	payload := make([]byte, r.Len())
	_, _ = r.Read(payload)
	return recordType, payload, nil
}

// stringPayload encodes one or more strings as a key payload, each
// length-prefixed so multi-part payloads split unambiguously.
func stringPayload(parts ...string) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		_ = wire.WriteVarString(&buf, 0, p)
	}
	return buf.Bytes()
}

// parseStringPayload decodes exactly n length-prefixed strings.
func parseStringPayload(payload []byte, n int) ([]string, error) {
	r := bytes.NewReader(payload)
	parts := make([]string, n)
	for i := range parts {
		s, err := wire.ReadVarString(r, 0)
		if err != nil {
			return nil, ErrMalformedKey
		}
		parts[i] = s
	}
	if r.Len() != 0 {
		return nil, ErrMalformedKey
	}
	return parts, nil
}
