// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/beam232001/devault/keystore"
	"github.com/beam232001/devault/txstore"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// creditPolicy adapts the wallet's key store to the ledger's ownership
// interface.
type creditPolicy Wallet

// ScriptOwnership classifies an output script against the key store:
// spendable when the wallet can sign for it, watch-only when it is only
// observed.
func (p *creditPolicy) ScriptOwnership(pkScript []byte) txstore.Ownership {
	w := (*Wallet)(p)
	return w.scriptOwnership(pkScript, 0)
}

// scriptOwnership resolves ownership, following one level of
// pay-to-script-hash indirection through stored redeem scripts.
func (w *Wallet) scriptOwnership(pkScript []byte,
	depth int) txstore.Ownership {

	if w.KeyStore.HaveWatchOnly(pkScript) {
		return txstore.OwnWatchOnly
	}

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript,
		w.netParams)
	if err != nil || len(addrs) == 0 {
		return txstore.OwnNone
	}

	switch class {
	case txscript.PubKeyHashTy:
		addr, ok := addrs[0].(*btcutil.AddressPubKeyHash)
		if !ok {
			return txstore.OwnNone
		}
		var id keystore.KeyID
		copy(id[:], addr.Hash160()[:])
		return w.keyOwnership(id)

	case txscript.PubKeyTy:
		addr, ok := addrs[0].(*btcutil.AddressPubKey)
		if !ok {
			return txstore.OwnNone
		}
		id := keystore.NewKeyID(addr.PubKey())
		return w.keyOwnership(id)

	case txscript.ScriptHashTy:
		// Only one level of nesting; nested script hashes are not
		// standard.
		if depth > 0 {
			return txstore.OwnNone
		}
		addr, ok := addrs[0].(*btcutil.AddressScriptHash)
		if !ok {
			return txstore.OwnNone
		}
		var id keystore.ScriptID
		copy(id[:], addr.Hash160()[:])
		redeem, err := w.KeyStore.GetScript(id)
		if err != nil {
			return txstore.OwnNone
		}
		return w.scriptOwnership(redeem, depth+1)
	}
	return txstore.OwnNone
}

// keyOwnership maps a key id to an ownership level: spendable with the
// private key present, watch-only when only the public half is known.
func (w *Wallet) keyOwnership(id keystore.KeyID) txstore.Ownership {
	if w.KeyStore.HaveKey(id) {
		return txstore.OwnSpendable
	}
	if _, err := w.KeyStore.GetPubKey(id); err == nil {
		return txstore.OwnWatchOnly
	}
	return txstore.OwnNone
}
