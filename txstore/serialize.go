// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/tlv"
)

// ErrMalformedTxRecord describes a transaction record that cannot be
// decoded.
var ErrMalformedTxRecord = errors.New("malformed transaction record")

// labelType is the TLV type carrying the user label in the record's
// extension stream.  Odd so old software skips it.
const labelType tlv.Type = 1

// Block pointer index states mirroring the wire layout: a mined record
// carries the confirming block's transaction index or zero, a
// conflicted record carries -1.
const conflictedIndex int32 = -1

// SerializeTxRecord encodes a record as
//
//	<txLen u32le><tx><received u64le><fromMe u8><orderPos u64le>
//	<blockHash 32><blockHeight i32le><blockIndex i32le><tlv extensions>
//
// The block pointer is the zero hash while unmined, the abandoned
// sentinel for abandoned transactions, and the conflicting block with
// index -1 for conflicted ones.  All bytes past the fixed fields form a
// TLV stream so later versions can attach data old versions skip.
func SerializeTxRecord(rec *TxRecord) ([]byte, error) {
	var txBuf bytes.Buffer
	if err := rec.MsgTx.Serialize(&txBuf); err != nil {
		return nil, err
	}

	var blockHash chainhash.Hash
	var blockHeight, blockIndex int32
	switch {
	case rec.abandoned:
		blockHash = AbandonedBlockHash
	case rec.Block != nil:
		blockHash = rec.Block.Hash
		blockHeight = rec.Block.Height
	case rec.conflictingBlock != nil:
		blockHash = rec.conflictingBlock.Hash
		blockHeight = rec.conflictingBlock.Height
		blockIndex = conflictedIndex
	}

	buf := make([]byte, 0, 4+txBuf.Len()+8+1+8+32+4+4+2+len(rec.Label))
	var u32 [4]byte
	var u64 [8]byte

	binary.LittleEndian.PutUint32(u32[:], uint32(txBuf.Len()))
	buf = append(buf, u32[:]...)
	buf = append(buf, txBuf.Bytes()...)
	binary.LittleEndian.PutUint64(u64[:], uint64(rec.Received.Unix()))
	buf = append(buf, u64[:]...)
	if rec.FromMe {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	binary.LittleEndian.PutUint64(u64[:], rec.OrderPos)
	buf = append(buf, u64[:]...)
	buf = append(buf, blockHash[:]...)
	binary.LittleEndian.PutUint32(u32[:], uint32(blockHeight))
	buf = append(buf, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], uint32(blockIndex))
	buf = append(buf, u32[:]...)

	if rec.Label != "" {
		label := []byte(rec.Label)
		stream, err := tlv.NewStream(
			tlv.MakePrimitiveRecord(labelType, &label),
		)
		if err != nil {
			return nil, err
		}
		var ext bytes.Buffer
		if err := stream.Encode(&ext); err != nil {
			return nil, err
		}
		buf = append(buf, ext.Bytes()...)
	}
	return buf, nil
}

// DeserializeTxRecord decodes a record produced by SerializeTxRecord.
// Unknown TLV extension types are skipped, not rejected.
func DeserializeTxRecord(b []byte) (*TxRecord, error) {
	if len(b) < 4 {
		return nil, ErrMalformedTxRecord
	}
	txLen := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < txLen {
		return nil, ErrMalformedTxRecord
	}

	var rec TxRecord
	if err := rec.MsgTx.Deserialize(bytes.NewReader(b[:txLen])); err != nil {
		return nil, ErrMalformedTxRecord
	}
	rec.Hash = rec.MsgTx.TxHash()
	b = b[txLen:]

	if len(b) < 8+1+8+32+4+4 {
		return nil, ErrMalformedTxRecord
	}
	rec.Received = time.Unix(int64(binary.LittleEndian.Uint64(b[:8])), 0)
	rec.FromMe = b[8] != 0
	rec.OrderPos = binary.LittleEndian.Uint64(b[9:17])

	var blockHash chainhash.Hash
	copy(blockHash[:], b[17:49])
	blockHeight := int32(binary.LittleEndian.Uint32(b[49:53]))
	blockIndex := int32(binary.LittleEndian.Uint32(b[53:57]))
	b = b[57:]

	var zeroHash chainhash.Hash
	switch {
	case blockHash == AbandonedBlockHash:
		rec.abandoned = true
	case blockHash == zeroHash:
		// Unmined.
	case blockIndex == conflictedIndex:
		rec.conflictingBlock = &BlockMeta{
			Hash:   blockHash,
			Height: blockHeight,
		}
	default:
		rec.Block = &BlockMeta{Hash: blockHash, Height: blockHeight}
	}

	if len(b) > 0 {
		var label []byte
		stream, err := tlv.NewStream(
			tlv.MakePrimitiveRecord(labelType, &label),
		)
		if err != nil {
			return nil, err
		}
		if err := stream.Decode(bytes.NewReader(b)); err != nil {
			return nil, ErrMalformedTxRecord
		}
		rec.Label = string(label)
	}
	return &rec, nil
}
