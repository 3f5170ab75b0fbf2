// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/beam232001/devault/coinselect"
	"github.com/beam232001/devault/keystore"
	"github.com/beam232001/devault/txstore"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// dustThreshold is the smallest output value the wallet will
	// create.
	dustThreshold = btcutil.Amount(546)

	// maxStandardTxSize is the largest transaction the wallet will
	// build.
	maxStandardTxSize = 100000

	// dummySigScriptSize approximates a pay-to-pubkey-hash signature
	// script: a max-length DER signature plus a compressed public
	// key, each with its push opcode.
	dummySigScriptSize = 1 + 72 + 1 + 33
)

var (
	// ErrNonPositiveAmount is returned when a recipient amount is
	// zero or negative.
	ErrNonPositiveAmount = errors.New("amount is not positive")

	// ErrDustOutput is returned when a recipient amount is below the
	// dust threshold.
	ErrDustOutput = errors.New("amount is below the dust threshold")

	// ErrTxTooBig is returned when the built transaction exceeds the
	// standard size limit.
	ErrTxTooBig = errors.New("transaction exceeds maximum size")
)

// Recipient is one payment destination of a new transaction.
type Recipient struct {
	PkScript []byte
	Amount   btcutil.Amount
}

// CreatedTx is a fully signed transaction ready for broadcast.
type CreatedTx struct {
	Tx *wire.MsgTx

	// Fee is the value surrendered to miners.
	Fee btcutil.Amount

	// ChangeIndex is the change output position, or -1 when the
	// change folded into the fee.
	ChangeIndex int
}

// feeForSize returns the fee for a transaction of the given size at
// rate satoshis per kilobyte, charging at least one increment.
func feeForSize(rate btcutil.Amount, size int) btcutil.Amount {
	fee := rate * btcutil.Amount(size) / 1000
	if fee < rate {
		fee = rate
	}
	return fee
}

// CreateTransaction builds and signs a transaction paying the
// recipients, funding it from the wallet's unspent outputs under the
// coin control constraints.  Change below the final change floor is
// surrendered to the fee; otherwise it pays a fresh internal key at a
// random position unless the coin control pins one.  Every input
// signature is verified by script execution before the transaction is
// returned.
func (w *Wallet) CreateTransaction(recipients []Recipient,
	cc *coinselect.CoinControl,
	feeRate btcutil.Amount) (*CreatedTx, error) {

	if len(recipients) == 0 {
		return nil, errors.New("transaction has no recipients")
	}
	var amount btcutil.Amount
	for _, r := range recipients {
		if r.Amount <= 0 {
			return nil, ErrNonPositiveAmount
		}
		if r.Amount < dustThreshold {
			return nil, ErrDustOutput
		}
		amount += r.Amount
	}
	if amount > btcutil.MaxSatoshi {
		return nil, errors.New("total amount exceeds maximum money")
	}
	if feeRate <= 0 {
		feeRate = w.feeRate
	}
	if cc == nil {
		cc = coinselect.NewCoinControl()
	}

	// The wallet-level locked outpoints join the caller's exclusions.
	// The union lives in a copy so a reused coin control does not
	// accumulate the wallet's locks.
	locked := w.lockedOutpoints()
	for op := range cc.Locked {
		locked[op] = struct{}{}
	}
	ccLocal := *cc
	ccLocal.Locked = locked
	cc = &ccLocal

	candidates := w.TxStore.UnspentOutputs(0)

	// The change key is reserved once and kept only if the final
	// transaction carries a change output.
	var changeReservation *KeyReservation
	changeScript := cc.ChangeScript
	returnChange := func() {
		if changeReservation != nil {
			changeReservation.ReturnKey()
		}
	}

	var (
		msgtx       *wire.MsgTx
		selected    []txstore.Credit
		fee         btcutil.Amount
		changeIndex int
	)
	for {
		changeIndex = -1
		inputs, inputTotal, err := w.selector.SelectCoins(candidates,
			amount+fee, cc)
		if err != nil {
			returnChange()
			return nil, err
		}

		msgtx = wire.NewMsgTx(wire.TxVersion)
		for _, r := range recipients {
			msgtx.AddTxOut(wire.NewTxOut(int64(r.Amount),
				r.PkScript))
		}

		change := inputTotal - amount - fee
		if change >= coinselect.MinFinalChange {
			if changeScript == nil {
				changeReservation, err = w.ReserveKey(true)
				if err != nil {
					return nil, err
				}
				addr, err := w.pubKeyAddress(
					changeReservation.PubKey())
				if err != nil {
					returnChange()
					return nil, err
				}
				changeScript, err = txscript.PayToAddrScript(
					addr)
				if err != nil {
					returnChange()
					return nil, err
				}
			}
			msgtx.AddTxOut(wire.NewTxOut(int64(change),
				changeScript))

			// Shuffle the change away from the predictable last
			// position.
			r := w.rng.Intn(len(msgtx.TxOut))
			c := len(msgtx.TxOut) - 1
			msgtx.TxOut[r], msgtx.TxOut[c] =
				msgtx.TxOut[c], msgtx.TxOut[r]
			changeIndex = r
			if cc.ChangePosition >= 0 &&
				cc.ChangePosition < len(msgtx.TxOut) {

				p := cc.ChangePosition
				msgtx.TxOut[r], msgtx.TxOut[p] =
					msgtx.TxOut[p], msgtx.TxOut[r]
				changeIndex = p
			}
		} else if change > 0 {
			// Sub-threshold change does more good as fee.
			fee += change
		}

		for _, input := range inputs {
			op := input.OutPoint
			msgtx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		}

		estSize := msgtx.SerializeSize() +
			dummySigScriptSize*len(inputs)
		if estSize > maxStandardTxSize {
			returnChange()
			return nil, ErrTxTooBig
		}

		if minFee := feeForSize(feeRate, estSize); fee < minFee {
			fee = minFee
			continue
		}
		selected = inputs
		break
	}

	if err := w.signTransaction(msgtx, selected); err != nil {
		returnChange()
		return nil, err
	}
	if err := validateMsgTx(msgtx, selected); err != nil {
		returnChange()
		return nil, err
	}

	if changeIndex >= 0 && changeReservation != nil {
		if err := changeReservation.KeepKey(); err != nil {
			return nil, err
		}
	} else {
		returnChange()
	}

	log.Debugf("Created transaction %v: %d inputs, %d outputs, fee %v",
		msgtx.TxHash(), len(msgtx.TxIn), len(msgtx.TxOut), fee)
	return &CreatedTx{Tx: msgtx, Fee: fee, ChangeIndex: changeIndex}, nil
}

// signTransaction signs every input against the credit it spends.
func (w *Wallet) signTransaction(msgtx *wire.MsgTx,
	inputs []txstore.Credit) error {

	for i, input := range inputs {
		sigScript, err := w.inputSigScript(msgtx, i, input.PkScript)
		if err != nil {
			return fmt.Errorf("cannot create sigscript for input "+
				"%d: %w", i, err)
		}
		msgtx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// inputSigScript builds the signature script spending an output the
// wallet owns.  Pay-to-pubkey-hash outputs take a signature plus the
// compressed public key; bare pay-to-pubkey outputs take the signature
// alone.
func (w *Wallet) inputSigScript(msgtx *wire.MsgTx, idx int,
	pkScript []byte) ([]byte, error) {

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript,
		w.netParams)
	if err != nil || len(addrs) == 0 {
		return nil, errors.New("unsupported output script")
	}
	switch class {
	case txscript.PubKeyHashTy:
		addr, ok := addrs[0].(*btcutil.AddressPubKeyHash)
		if !ok {
			return nil, errors.New("unsupported output script")
		}
		var id keystore.KeyID
		copy(id[:], addr.Hash160()[:])
		priv, err := w.KeyStore.GetKey(id)
		if err != nil {
			return nil, err
		}
		return txscript.SignatureScript(msgtx, idx, pkScript,
			txscript.SigHashAll, priv, true)

	case txscript.PubKeyTy:
		addr, ok := addrs[0].(*btcutil.AddressPubKey)
		if !ok {
			return nil, errors.New("unsupported output script")
		}
		priv, err := w.KeyStore.GetKey(keystore.NewKeyID(addr.PubKey()))
		if err != nil {
			return nil, err
		}
		sig, err := txscript.RawTxInSignature(msgtx, idx, pkScript,
			txscript.SigHashAll, priv)
		if err != nil {
			return nil, err
		}
		return txscript.NewScriptBuilder().AddData(sig).Script()
	}
	return nil, fmt.Errorf("cannot sign %v output", class)
}

// validateMsgTx executes every input script against the output it
// spends, catching any silently bad signature before broadcast.
func validateMsgTx(msgtx *wire.MsgTx, inputs []txstore.Credit) error {
	for i, input := range inputs {
		fetcher := txscript.NewCannedPrevOutputFetcher(input.PkScript,
			int64(input.Amount))
		engine, err := txscript.NewEngine(input.PkScript, msgtx, i,
			txscript.StandardVerifyFlags, nil, nil,
			int64(input.Amount), fetcher)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %w",
				err)
		}
		if err := engine.Execute(); err != nil {
			return fmt.Errorf("input %d fails script "+
				"validation: %w", i, err)
		}
	}
	return nil
}

// SendOutputs builds, signs, broadcasts, and records a transaction
// paying the recipients.
func (w *Wallet) SendOutputs(recipients []Recipient,
	cc *coinselect.CoinControl,
	feeRate btcutil.Amount) (*CreatedTx, error) {

	created, err := w.CreateTransaction(recipients, cc, feeRate)
	if err != nil {
		return nil, err
	}
	if err := w.chain.Broadcast(created.Tx); err != nil {
		return nil, err
	}

	rec := txstore.NewTxRecord(created.Tx, w.clock.Now())
	rec.FromMe = true
	w.TxStore.AddToWallet(rec)
	return created, nil
}
