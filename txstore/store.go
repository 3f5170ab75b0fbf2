// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"errors"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrUnknownTx is returned when the requested transaction is not
	// in the ledger.
	ErrUnknownTx = errors.New("transaction not in wallet")

	// ErrTxConfirmed is returned when abandoning a transaction that
	// has already confirmed.
	ErrTxConfirmed = errors.New("cannot abandon confirmed transaction")
)

// Store is the in-memory transaction ledger.  Mutations are announced
// to the optional Updated hook so the persistence layer can schedule a
// flush.
type Store struct {
	mu sync.RWMutex

	policy CreditPolicy
	clock  clock.Clock

	txs    map[chainhash.Hash]*TxRecord
	spends map[wire.OutPoint][]chainhash.Hash

	orderPosNext uint64

	tipHash   chainhash.Hash
	tipHeight int32

	// Updated, when set, is called with every record the store
	// modifies, outside no locks held by the caller's callback.
	Updated func(rec *TxRecord)
}

// New returns an empty ledger using policy for ownership decisions and
// clk for receive timestamps.
func New(policy CreditPolicy, clk clock.Clock) *Store {
	return &Store{
		policy: policy,
		clock:  clk,
		txs:    make(map[chainhash.Hash]*TxRecord),
		spends: make(map[wire.OutPoint][]chainhash.Hash),
	}
}

func (s *Store) notify(rec *TxRecord) {
	if s.Updated != nil {
		s.Updated(rec)
	}
}

// addToSpends indexes every input of rec and reconciles metadata across
// transactions spending the same outpoint.  Two such transactions are
// mutually exclusive on chain, so whichever the wallet saw first lends
// its receive metadata to the others.
func (s *Store) addToSpends(rec *TxRecord) {
	if rec.IsCoinbase() {
		return
	}
	for _, in := range rec.MsgTx.TxIn {
		op := in.PreviousOutPoint
		found := false
		for _, h := range s.spends[op] {
			if h == rec.Hash {
				found = true
				break
			}
		}
		if !found {
			s.spends[op] = append(s.spends[op], rec.Hash)
		}
		s.syncMetaData(op)
	}
}

// syncMetaData copies receive metadata from the earliest-ordered
// spender of an outpoint to all later conflicting spenders.
func (s *Store) syncMetaData(op wire.OutPoint) {
	spenders := s.spends[op]
	if len(spenders) < 2 {
		return
	}
	var first *TxRecord
	for _, h := range spenders {
		rec, ok := s.txs[h]
		if !ok {
			continue
		}
		if first == nil || rec.OrderPos < first.OrderPos {
			first = rec
		}
	}
	if first == nil {
		return
	}
	for _, h := range spenders {
		rec, ok := s.txs[h]
		if !ok || rec == first {
			continue
		}
		rec.Received = first.Received
		rec.FromMe = first.FromMe
	}
}

// isSpent reports whether a live (neither conflicted nor abandoned)
// wallet transaction spends the outpoint.
func (s *Store) isSpent(op wire.OutPoint) bool {
	for _, h := range s.spends[op] {
		rec, ok := s.txs[h]
		if !ok {
			continue
		}
		if !rec.abandoned && rec.depth(s.tipHeight) >= 0 {
			return true
		}
	}
	return false
}

// IsSpent reports whether a live wallet transaction spends the
// outpoint.  Conflicted and abandoned spenders do not count, so their
// inputs remain available.
func (s *Store) IsSpent(op wire.OutPoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isSpent(op)
}

// markInputsDirty invalidates the memoized amounts of every wallet
// transaction funding rec.  Used when rec's liveness changes, since
// that changes whether the funded outputs count as spent.
func (s *Store) markInputsDirty(rec *TxRecord) {
	for _, in := range rec.MsgTx.TxIn {
		if prev, ok := s.txs[in.PreviousOutPoint.Hash]; ok {
			prev.markDirty()
		}
	}
}

// AddToWallet inserts a transaction or merges updated details into an
// existing record.  New records receive the next ordering position and
// a receive timestamp if unset.  A record arriving with a confirming
// block marks every double-spend of its inputs conflicted.
func (s *Store) AddToWallet(rec *TxRecord) *TxRecord {
	s.mu.Lock()

	existing, ok := s.txs[rec.Hash]
	if !ok {
		if rec.Received.IsZero() {
			rec.Received = s.clock.Now()
		}
		rec.OrderPos = s.orderPosNext
		s.orderPosNext++
		s.txs[rec.Hash] = rec
		s.addToSpends(rec)
		existing = rec
		log.Debugf("Inserted transaction %v (order %d)", rec.Hash,
			rec.OrderPos)
	} else {
		updated := false
		if rec.Block != nil && (existing.Block == nil ||
			*existing.Block != *rec.Block) {

			existing.Block = rec.Block
			existing.conflictingBlock = nil
			existing.abandoned = false
			updated = true
		}
		if rec.FromMe && !existing.FromMe {
			existing.FromMe = true
			updated = true
		}
		if rec.Label != "" && rec.Label != existing.Label {
			existing.Label = rec.Label
			updated = true
		}
		if updated {
			existing.markDirty()
			log.Debugf("Updated transaction %v", existing.Hash)
		}
	}

	// A confirmed spend supersedes any other transaction spending the
	// same outputs.
	if existing.Block != nil {
		block := *existing.Block
		for _, in := range existing.MsgTx.TxIn {
			for _, h := range s.spends[in.PreviousOutPoint] {
				if h != existing.Hash {
					s.markConflicted(block, h)
				}
			}
		}
	}

	s.mu.Unlock()
	s.notify(existing)
	return existing
}

// LoadTx inserts a record during startup without assigning new ordering
// state or notifying the persistence layer.  The on-disk ordering
// position is kept and the next-position counter advanced past it.
func (s *Store) LoadTx(rec *TxRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[rec.Hash] = rec
	if rec.OrderPos >= s.orderPosNext {
		s.orderPosNext = rec.OrderPos + 1
	}
	s.addToSpends(rec)
}

// TxDetails returns the record for a transaction id.
func (s *Store) TxDetails(hash *chainhash.Hash) (*TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txs[*hash]
	if !ok {
		return nil, ErrUnknownTx
	}
	return rec, nil
}

// GetConflicts returns the ids of all wallet transactions spending an
// outpoint also spent by hash.
func (s *Store) GetConflicts(hash *chainhash.Hash) []chainhash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.txs[*hash]
	if !ok {
		return nil
	}
	seen := make(map[chainhash.Hash]struct{})
	for _, in := range rec.MsgTx.TxIn {
		for _, h := range s.spends[in.PreviousOutPoint] {
			if h != *hash {
				seen[h] = struct{}{}
			}
		}
	}
	conflicts := make([]chainhash.Hash, 0, len(seen))
	for h := range seen {
		conflicts = append(conflicts, h)
	}
	return conflicts
}

// MarkConflicted records that block contains a transaction spending one
// or more of hash's inputs, demoting hash and every wallet descendant
// of it below confirmation.
func (s *Store) MarkConflicted(block BlockMeta, hash chainhash.Hash) {
	s.mu.Lock()
	s.markConflicted(block, hash)
	s.mu.Unlock()
}

// markConflicted walks hash and its in-wallet descendants, marking each
// conflicted when the conflicting block is deeper than the record's own
// standing.  Each demotion invalidates the records funding the demoted
// transaction, since their outputs are no longer spent.
func (s *Store) markConflicted(block BlockMeta, hash chainhash.Hash) {
	// The conflicting block may be ahead of the recorded tip when its
	// transactions are processed before the tip update; it is still at
	// least one confirmation deep.
	tip := s.tipHeight
	if block.Height > tip {
		tip = block.Height
	}
	conflictDepth := tip - block.Height + 1

	todo := []chainhash.Hash{hash}
	done := make(map[chainhash.Hash]struct{})
	for len(todo) > 0 {
		h := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if _, ok := done[h]; ok {
			continue
		}
		done[h] = struct{}{}

		rec, ok := s.txs[h]
		if !ok {
			continue
		}
		if conflictDepth <= rec.depth(s.tipHeight) {
			continue
		}

		blockCopy := block
		rec.Block = nil
		rec.conflictingBlock = &blockCopy
		rec.markDirty()
		s.markInputsDirty(rec)
		log.Infof("Transaction %v marked conflicted by block %v", h,
			block.Hash)

		for i := range rec.MsgTx.TxOut {
			op := wire.OutPoint{Hash: h, Index: uint32(i)}
			todo = append(todo, s.spends[op]...)
		}
	}
}

// Abandon marks an unconfirmed transaction and its in-wallet
// descendants abandoned, freeing their inputs for reuse.  Confirmed
// transactions cannot be abandoned.
func (s *Store) Abandon(hash chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.txs[hash]
	if !ok {
		return ErrUnknownTx
	}
	if rec.depth(s.tipHeight) > 0 {
		return ErrTxConfirmed
	}

	todo := []chainhash.Hash{hash}
	done := make(map[chainhash.Hash]struct{})
	for len(todo) > 0 {
		h := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if _, ok := done[h]; ok {
			continue
		}
		done[h] = struct{}{}

		rec, ok := s.txs[h]
		if !ok || rec.abandoned || rec.depth(s.tipHeight) > 0 {
			continue
		}

		rec.abandoned = true
		rec.conflictingBlock = nil
		rec.Block = nil
		rec.markDirty()
		s.markInputsDirty(rec)
		log.Infof("Transaction %v abandoned", h)

		for i := range rec.MsgTx.TxOut {
			op := wire.OutPoint{Hash: h, Index: uint32(i)}
			todo = append(todo, s.spends[op]...)
		}
	}
	return nil
}

// BlockConnected advances the chain tip.
func (s *Store) BlockConnected(block BlockMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tipHash = block.Hash
	s.tipHeight = block.Height
}

// BlockDisconnected rewinds the tip below height, returning every
// transaction mined at or above it to the unmined state.
func (s *Store) BlockDisconnected(height int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tipHeight >= height {
		s.tipHeight = height - 1
	}
	for _, rec := range s.txs {
		if rec.Block != nil && rec.Block.Height >= height {
			rec.Block = nil
			rec.markDirty()
			s.markInputsDirty(rec)
		}
	}
}

// BestBlock returns the ledger's view of the chain tip.
func (s *Store) BestBlock() (chainhash.Hash, int32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipHash, s.tipHeight
}

// SetBestBlock primes the tip from a persisted bestblock record.
func (s *Store) SetBestBlock(hash chainhash.Hash, height int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tipHash = hash
	s.tipHeight = height
}

// OrderPosNext returns the next transaction ordering position.
func (s *Store) OrderPosNext() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderPosNext
}

// SetOrderPosNext primes the ordering counter from a persisted record.
func (s *Store) SetOrderPosNext(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.orderPosNext {
		s.orderPosNext = n
	}
}

// OrderedTxs returns all records sorted by their ordering position.
func (s *Store) OrderedTxs() []*TxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*TxRecord, 0, len(s.txs))
	for _, rec := range s.txs {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].OrderPos < recs[j].OrderPos
	})
	return recs
}

// Zap removes every transaction from the ledger, leaving ordering and
// chain state intact.  Keys are unaffected; a rescan rebuilds history.
func (s *Store) Zap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.txs)
	s.txs = make(map[chainhash.Hash]*TxRecord)
	s.spends = make(map[wire.OutPoint][]chainhash.Hash)
	log.Infof("Zapped %d wallet transactions", n)
	return n
}

// ownership returns the wallet's relation to an output, treating a nil
// policy as owning nothing.
func (s *Store) ownership(pkScript []byte) Ownership {
	if s.policy == nil {
		return OwnNone
	}
	return s.policy.ScriptOwnership(pkScript)
}

// debit returns the total value of rec's inputs funded by wallet
// transactions, memoized until the surrounding spend state changes.
func (s *Store) debit(rec *TxRecord) btcutil.Amount {
	if v := rec.cachedDebit; v.IsSome() {
		return v.UnwrapOr(0)
	}
	var total btcutil.Amount
	for _, in := range rec.MsgTx.TxIn {
		prev, ok := s.txs[in.PreviousOutPoint.Hash]
		if !ok {
			continue
		}
		idx := in.PreviousOutPoint.Index
		if idx >= uint32(len(prev.MsgTx.TxOut)) {
			continue
		}
		out := prev.MsgTx.TxOut[idx]
		if s.ownership(out.PkScript) == OwnSpendable {
			total += btcutil.Amount(out.Value)
		}
	}
	rec.cachedDebit = fn.Some(total)
	return total
}

// credit returns the total value of rec's outputs at or above the
// wanted ownership level, memoized per level.
func (s *Store) credit(rec *TxRecord, want Ownership) btcutil.Amount {
	cache := &rec.cachedCredit
	if want == OwnWatchOnly {
		cache = &rec.cachedWatchCredit
	}
	if v := *cache; v.IsSome() {
		return v.UnwrapOr(0)
	}
	var total btcutil.Amount
	for _, out := range rec.MsgTx.TxOut {
		if s.ownership(out.PkScript) == want {
			total += btcutil.Amount(out.Value)
		}
	}
	*cache = fn.Some(total)
	return total
}

// availableCredit sums rec's owned outputs that no live transaction
// spends.  Immature coinbases contribute nothing.
func (s *Store) availableCredit(rec *TxRecord, want Ownership) btcutil.Amount {
	if rec.blocksToMaturity(s.tipHeight) > 0 {
		return 0
	}
	var total btcutil.Amount
	for i, out := range rec.MsgTx.TxOut {
		if s.ownership(out.PkScript) != want {
			continue
		}
		op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
		if !s.isSpent(op) {
			total += btcutil.Amount(out.Value)
		}
	}
	return total
}

// isTrusted reports whether rec's unspent outputs are safe to count as
// balance and spend from: confirmed, or an own unconfirmed transaction
// built entirely from own confirmed-or-trusted inputs.
func (s *Store) isTrusted(rec *TxRecord) bool {
	depth := rec.depth(s.tipHeight)
	if depth > 0 {
		return true
	}
	if depth < 0 || rec.abandoned {
		return false
	}
	if !rec.FromMe {
		return false
	}
	for _, in := range rec.MsgTx.TxIn {
		prev, ok := s.txs[in.PreviousOutPoint.Hash]
		if !ok {
			return false
		}
		idx := in.PreviousOutPoint.Index
		if idx >= uint32(len(prev.MsgTx.TxOut)) {
			return false
		}
		if s.ownership(prev.MsgTx.TxOut[idx].PkScript) != OwnSpendable {
			return false
		}
	}
	return true
}

// Balance returns the trusted spendable balance.
func (s *Store) Balance() btcutil.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total btcutil.Amount
	for _, rec := range s.txs {
		if s.isTrusted(rec) {
			total += s.availableCredit(rec, OwnSpendable)
		}
	}
	return total
}

// UnconfirmedBalance returns the value of untrusted zero-depth
// transactions, pending but not yet safe to spend.
func (s *Store) UnconfirmedBalance() btcutil.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total btcutil.Amount
	for _, rec := range s.txs {
		if !s.isTrusted(rec) && rec.depth(s.tipHeight) == 0 &&
			!rec.abandoned {

			total += s.availableCredit(rec, OwnSpendable)
		}
	}
	return total
}

// ImmatureBalance returns the value of not-yet-mature coinbase credits.
func (s *Store) ImmatureBalance() btcutil.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total btcutil.Amount
	for _, rec := range s.txs {
		if rec.blocksToMaturity(s.tipHeight) > 0 &&
			rec.depth(s.tipHeight) > 0 {

			total += s.credit(rec, OwnSpendable)
		}
	}
	return total
}

// WatchOnlyBalance returns the trusted balance of watch-only outputs.
func (s *Store) WatchOnlyBalance() btcutil.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total btcutil.Amount
	for _, rec := range s.txs {
		if s.isTrusted(rec) {
			total += s.availableCredit(rec, OwnWatchOnly)
		}
	}
	return total
}

// Credit is an unspent wallet output usable as a transaction input.
type Credit struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
	Depth    int32
	FromMe   bool
	Coinbase bool
}

// UnspentOutputs returns the wallet's spendable unspent outputs with at
// least minDepth confirmations.  Zero-depth outputs additionally
// require the funding transaction to be trusted.  Immature coinbase
// outputs are excluded.
func (s *Store) UnspentOutputs(minDepth int32) []Credit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var credits []Credit
	for _, rec := range s.txs {
		depth := rec.depth(s.tipHeight)
		if depth < minDepth || rec.abandoned {
			continue
		}
		if depth == 0 && !s.isTrusted(rec) {
			continue
		}
		if rec.blocksToMaturity(s.tipHeight) > 0 {
			continue
		}
		for i, out := range rec.MsgTx.TxOut {
			if s.ownership(out.PkScript) != OwnSpendable {
				continue
			}
			op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
			if s.isSpent(op) {
				continue
			}
			credits = append(credits, Credit{
				OutPoint: op,
				Amount:   btcutil.Amount(out.Value),
				PkScript: out.PkScript,
				Depth:    depth,
				FromMe:   rec.FromMe,
				Coinbase: rec.IsCoinbase(),
			})
		}
	}
	return credits
}

// Debit returns the wallet-funded value of rec's inputs.
func (s *Store) Debit(rec *TxRecord) btcutil.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debit(rec)
}

// CreditOf returns the value rec pays to the wallet.
func (s *Store) CreditOf(rec *TxRecord) btcutil.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credit(rec, OwnSpendable)
}
