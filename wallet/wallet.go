// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet ties the key store, transaction ledger, coin selector,
// and persistence layer together behind the interface the rest of the
// node uses.  When an operation needs both the key store's lock and the
// wallet's own state lock, the key store is always entered first.
package wallet

import (
	"crypto/rand"
	"errors"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/beam232001/devault/chain"
	"github.com/beam232001/devault/coinselect"
	"github.com/beam232001/devault/crypter"
	"github.com/beam232001/devault/internal/zero"
	"github.com/beam232001/devault/keystore"
	"github.com/beam232001/devault/txstore"
	"github.com/beam232001/devault/walletdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/semaphore"
)

const (
	// minDeriveIterations is the floor for master key derivation
	// rounds regardless of how fast the machine measures.
	minDeriveIterations = 25000

	// deriveTargetDuration is the wall time a single passphrase
	// derivation is calibrated to take.
	deriveTargetDuration = 100 * time.Millisecond

	// defaultKeyPoolSize is the number of pre-derived keys kept ready
	// per branch.
	defaultKeyPoolSize = 100

	// defaultFeeRate is the fee rate applied to new transactions, in
	// satoshis per kilobyte.
	defaultFeeRate = btcutil.Amount(10000)
)

var (
	// ErrAlreadyEncrypted is returned when encrypting an encrypted
	// wallet.
	ErrAlreadyEncrypted = errors.New("wallet is already encrypted")

	// ErrNotEncrypted is returned when unlocking a wallet that has no
	// passphrase set.
	ErrNotEncrypted = errors.New("wallet is not encrypted")
)

// Config bundles the wallet's collaborators.
type Config struct {
	DB        *walletdb.DB
	Chain     chain.Oracle
	NetParams *chaincfg.Params
	Clock     clock.Clock

	// KeyPoolSize overrides the pre-derived key reservoir size per
	// branch when positive.
	KeyPoolSize int

	// FeeRate overrides the default fee rate when positive.
	FeeRate btcutil.Amount

	// Rand overrides the wallet's randomness source, for tests.
	Rand *mrand.Rand
}

// Wallet is the full-node wallet subsystem.
type Wallet struct {
	mu sync.Mutex

	KeyStore *keystore.Crypto
	TxStore  *txstore.Store

	db        *walletdb.DB
	chain     chain.Oracle
	netParams *chaincfg.Params
	clock     clock.Clock
	selector  *coinselect.Selector
	rng       *mrand.Rand

	masterKeys    map[uint32]*crypter.MasterKey
	nextMasterID  uint32
	pool          *keyPool
	addrNames     map[string]string
	addrPurposes  map[string]string
	destData      map[string]map[string]string
	lockedOutputs map[wire.OutPoint]struct{}
	keyPoolSize   int
	feeRate       btcutil.Amount

	// dirty state queued for the background flusher.
	dirtyMu sync.Mutex
	dirtyTx map[chainhash.Hash]struct{}

	rescanSem   *semaphore.Weighted
	flushTicker ticker.Ticker
	quit        chan struct{}
	wg          sync.WaitGroup
	startMu     sync.Mutex
	started     bool
}

// New assembles a wallet from its collaborators.  The returned wallet
// has no keys; call Initialize for a fresh wallet or Load to restore a
// persisted one.
func New(cfg Config) *Wallet {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = mrand.New(mrand.NewSource(time.Now().UnixNano()))
	}
	poolSize := cfg.KeyPoolSize
	if poolSize <= 0 {
		poolSize = defaultKeyPoolSize
	}
	feeRate := cfg.FeeRate
	if feeRate <= 0 {
		feeRate = defaultFeeRate
	}

	w := &Wallet{
		KeyStore:      keystore.NewCrypto(),
		db:            cfg.DB,
		chain:         cfg.Chain,
		netParams:     cfg.NetParams,
		clock:         clk,
		selector:      coinselect.NewSelector(rng),
		rng:           rng,
		masterKeys:    make(map[uint32]*crypter.MasterKey),
		pool:          newKeyPool(),
		addrNames:     make(map[string]string),
		addrPurposes:  make(map[string]string),
		destData:      make(map[string]map[string]string),
		lockedOutputs: make(map[wire.OutPoint]struct{}),
		keyPoolSize:   poolSize,
		feeRate:       feeRate,
		rescanSem:     semaphore.NewWeighted(1),
		flushTicker:   ticker.New(flushTickInterval),
		quit:          make(chan struct{}),
		dirtyTx:       make(map[chainhash.Hash]struct{}),
	}
	w.TxStore = txstore.New((*creditPolicy)(w), clk)
	w.TxStore.Updated = w.queueTxRecord
	return w
}

// Initialize seeds a brand-new wallet: it installs an HD chain around
// seed, tops up the key pool, and persists everything in one batch.
func (w *Wallet) Initialize(seed, mnemonic []byte) error {
	hdChain := keystore.NewHDChain(seed, mnemonic)
	if err := w.KeyStore.SetHDChain(hdChain); err != nil {
		return err
	}

	batch, err := w.db.TxnBegin()
	if err != nil {
		return err
	}
	abort := func(err error) error {
		_ = batch.Abort()
		return err
	}
	if err := batch.PutVersion(walletdb.LatestVersion); err != nil {
		return abort(err)
	}
	if err := batch.PutMinVersion(walletdb.LatestVersion); err != nil {
		return abort(err)
	}
	if err := w.topUpKeyPool(batch); err != nil {
		return abort(err)
	}
	if err := batch.PutHDChain(hdChain.Serialize()); err != nil {
		return abort(err)
	}
	return batch.Commit()
}

// IsLocked reports whether the key store is locked.
func (w *Wallet) IsLocked() bool {
	return w.KeyStore.IsLocked()
}

// Lock scrubs the in-memory master secret.
func (w *Wallet) Lock() error {
	return w.KeyStore.Lock()
}

// Unlock derives candidate master secrets from the passphrase against
// every stored master key record and unlocks the key store with the
// first that verifies.  A wrong passphrase leaves no secret material in
// memory.
func (w *Wallet) Unlock(passphrase []byte) error {
	w.mu.Lock()
	masterKeys := make([]*crypter.MasterKey, 0, len(w.masterKeys))
	for _, mk := range w.masterKeys {
		masterKeys = append(masterKeys, mk)
	}
	w.mu.Unlock()

	if len(masterKeys) == 0 {
		return ErrNotEncrypted
	}

	for _, mk := range masterKeys {
		var c crypter.Crypter
		err := c.SetKeyFromPassphrase(passphrase, mk.Salt[:],
			mk.DeriveIterations, mk.DerivationMethod)
		if err != nil {
			c.Zero()
			return err
		}
		master, err := c.Decrypt(mk.CryptedKey)
		c.Zero()
		if err != nil {
			continue
		}
		err = w.KeyStore.Unlock(master)
		zero.Bytes(master)
		if err == nil {
			log.Infof("Wallet unlocked")
			return nil
		}
		if !errors.Is(err, keystore.ErrWrongPassphrase) {
			return err
		}
	}
	return keystore.ErrWrongPassphrase
}

// calibrateIterations measures passphrase derivation speed and scales
// the iteration count so one derivation takes the target duration, with
// a hard floor.
func calibrateIterations(passphrase, salt []byte) uint32 {
	measure := func(rounds uint32) time.Duration {
		var c crypter.Crypter
		defer c.Zero()
		start := time.Now()
		_ = c.SetKeyFromPassphrase(passphrase, salt, rounds,
			crypter.DerivationSHA512)
		return time.Since(start)
	}

	iterations := uint32(minDeriveIterations)
	if elapsed := measure(iterations); elapsed > 0 {
		scaled := float64(iterations) *
			float64(deriveTargetDuration) / float64(elapsed)
		// Average with a second measurement at the scaled count to
		// smooth out scheduler noise.
		if second := measure(uint32(scaled)); second > 0 {
			rescaled := scaled * float64(deriveTargetDuration) /
				float64(second)
			scaled = (scaled + rescaled) / 2
		}
		if scaled > float64(iterations) {
			iterations = uint32(scaled)
		}
	}
	return iterations
}

// Encrypt sets the wallet passphrase: a fresh random master secret is
// encrypted under a passphrase-derived key, every private key and the
// HD chain are re-encrypted under the master secret, and the whole
// conversion is committed in one batch.  The wallet is left unlocked.
func (w *Wallet) Encrypt(passphrase []byte) error {
	if w.KeyStore.IsCrypted() {
		return ErrAlreadyEncrypted
	}

	master := make([]byte, crypter.KeySize)
	if _, err := rand.Read(master); err != nil {
		return err
	}
	defer zero.Bytes(master)

	mk := &crypter.MasterKey{
		DerivationMethod: crypter.DerivationSHA512,
	}
	if _, err := rand.Read(mk.Salt[:]); err != nil {
		return err
	}
	mk.DeriveIterations = calibrateIterations(passphrase, mk.Salt[:])
	log.Infof("Encrypting wallet with %d derivation rounds",
		mk.DeriveIterations)

	var c crypter.Crypter
	defer c.Zero()
	err := c.SetKeyFromPassphrase(passphrase, mk.Salt[:],
		mk.DeriveIterations, mk.DerivationMethod)
	if err != nil {
		return err
	}
	mk.CryptedKey, err = c.Encrypt(master)
	if err != nil {
		return err
	}

	// Key store first, then wallet state, then disk.
	if err := w.KeyStore.EncryptKeys(master); err != nil {
		return err
	}

	w.mu.Lock()
	w.nextMasterID++
	id := w.nextMasterID
	w.masterKeys[id] = mk
	w.mu.Unlock()

	batch, err := w.db.TxnBegin()
	if err != nil {
		return err
	}
	abort := func(err error) error {
		_ = batch.Abort()
		return err
	}
	if err := batch.PutMasterKey(id, mk.Marshal()); err != nil {
		return abort(err)
	}
	for _, ck := range w.KeyStore.CryptedKeys() {
		err := batch.PutCryptedKey(ck.PubKey.SerializeCompressed(),
			ck.Crypted)
		if err != nil {
			return abort(err)
		}
	}
	if hdChain := w.KeyStore.HDChain(); hdChain != nil {
		if err := batch.PutHDChain(hdChain.Serialize()); err != nil {
			return abort(err)
		}
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	log.Infof("Wallet encrypted")
	return nil
}

// SetAddressBook records a name and purpose for an address.
func (w *Wallet) SetAddressBook(addr, name, purpose string) error {
	w.mu.Lock()
	w.addrNames[addr] = name
	if purpose != "" {
		w.addrPurposes[addr] = purpose
	}
	w.mu.Unlock()

	return w.db.Update(func(b *walletdb.Batch) error {
		if err := b.PutName(addr, name); err != nil {
			return err
		}
		if purpose != "" {
			return b.PutPurpose(addr, purpose)
		}
		return nil
	})
}

// DeleteAddressBook removes an address book entry.
func (w *Wallet) DeleteAddressBook(addr string) error {
	w.mu.Lock()
	delete(w.addrNames, addr)
	delete(w.addrPurposes, addr)
	w.mu.Unlock()

	return w.db.Update(func(b *walletdb.Batch) error {
		if err := b.DeleteName(addr); err != nil {
			return err
		}
		return b.DeletePurpose(addr)
	})
}

// AddressBookEntry returns the recorded name and purpose for an
// address.
func (w *Wallet) AddressBookEntry(addr string) (name, purpose string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addrNames[addr], w.addrPurposes[addr]
}

// SetDestData attaches an arbitrary key/value pair to a destination.
func (w *Wallet) SetDestData(addr, key, value string) error {
	w.mu.Lock()
	if w.destData[addr] == nil {
		w.destData[addr] = make(map[string]string)
	}
	w.destData[addr][key] = value
	w.mu.Unlock()

	return w.db.Update(func(b *walletdb.Batch) error {
		return b.PutDestData(addr, key, value)
	})
}

// DestData returns a destination-scoped value.
func (w *Wallet) DestData(addr, key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.destData[addr][key]
	return v, ok
}

// AbandonTransaction gives up on an unconfirmed transaction, freeing
// its inputs.
func (w *Wallet) AbandonTransaction(hash chainhash.Hash) error {
	if err := w.TxStore.Abandon(hash); err != nil {
		return err
	}
	w.queueTxHash(hash)
	return nil
}

// ZapWalletTxes drops the entire transaction history from memory and
// disk.  Keys are untouched; a rescan restores the history.
func (w *Wallet) ZapWalletTxes() error {
	hashes := make([]chainhash.Hash, 0)
	for _, rec := range w.TxStore.OrderedTxs() {
		hashes = append(hashes, rec.Hash)
	}
	w.TxStore.Zap()

	return w.db.Update(func(b *walletdb.Batch) error {
		for i := range hashes {
			if err := b.DeleteTx(hashes[i][:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Balance returns the trusted spendable balance.
func (w *Wallet) Balance() btcutil.Amount {
	return w.TxStore.Balance()
}

// UnconfirmedBalance returns the pending untrusted balance.
func (w *Wallet) UnconfirmedBalance() btcutil.Amount {
	return w.TxStore.UnconfirmedBalance()
}

// ImmatureBalance returns the immature coinbase balance.
func (w *Wallet) ImmatureBalance() btcutil.Amount {
	return w.TxStore.ImmatureBalance()
}

// LockOutpoint excludes an outpoint from automatic coin selection.
func (w *Wallet) LockOutpoint(op wire.OutPoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lockedOutputs[op] = struct{}{}
}

// UnlockOutpoint returns an outpoint to automatic coin selection.
func (w *Wallet) UnlockOutpoint(op wire.OutPoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lockedOutputs, op)
}

// lockedOutpoints snapshots the locked set for a selection run.
func (w *Wallet) lockedOutpoints() map[wire.OutPoint]struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	locked := make(map[wire.OutPoint]struct{}, len(w.lockedOutputs))
	for op := range w.lockedOutputs {
		locked[op] = struct{}{}
	}
	return locked
}
