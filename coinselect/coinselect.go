// Copyright (c) 2016-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinselect chooses wallet outputs to fund a payment.  The
// selector prefers an exact match, then the best approximate subset of
// smaller outputs found by randomized search, and falls back to the
// smallest single output covering the target.
package coinselect

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/beam232001/devault/txstore"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const (
	// MinChange is the target minimum change amount.  Selection aims
	// for either exact payment or change of at least this much, so
	// change outputs stay comfortably above the dust threshold.
	MinChange = btcutil.Amount(1e6)

	// MinFinalChange is the lower bound applied after fees: change
	// that would fall below it is given to the fee instead.
	MinFinalChange = MinChange / 2

	// subsetIterations bounds the randomized subset search.
	subsetIterations = 1000
)

// InsufficientFundsError describes a selection target exceeding the
// spendable value of the eligible outputs.
type InsufficientFundsError struct {
	Target    btcutil.Amount
	Available btcutil.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %v, have %v eligible",
		e.Target, e.Available)
}

// CoinControl constrains selection for a single transaction build.
type CoinControl struct {
	// PresetInputs must be spent by the transaction.
	PresetInputs []wire.OutPoint

	// AllowOtherInputs permits automatic selection beyond the preset
	// inputs.  Without it, the preset inputs must cover the target by
	// themselves.
	AllowOtherInputs bool

	// Locked outpoints are never selected automatically.
	Locked map[wire.OutPoint]struct{}

	// SpendZeroConf admits untrusted zero-confirmation outputs as a
	// last resort.
	SpendZeroConf bool

	// ChangeScript, when set, receives the change instead of a fresh
	// pool key.
	ChangeScript []byte

	// ChangePosition pins the change output index, or -1 for a
	// random position.
	ChangePosition int
}

// NewCoinControl returns a CoinControl with no constraints and a random
// change position.
func NewCoinControl() *CoinControl {
	return &CoinControl{ChangePosition: -1}
}

// IsLocked reports whether the outpoint is excluded from automatic
// selection.
func (cc *CoinControl) IsLocked(op wire.OutPoint) bool {
	if cc == nil || cc.Locked == nil {
		return false
	}
	_, ok := cc.Locked[op]
	return ok
}

// isPreset reports whether op is one of the mandatory inputs.
func (cc *CoinControl) isPreset(op wire.OutPoint) bool {
	if cc == nil {
		return false
	}
	for _, preset := range cc.PresetInputs {
		if preset == op {
			return true
		}
	}
	return false
}

// Selector runs coin selection with its own randomness source, so tests
// can make selection deterministic.
type Selector struct {
	rand *rand.Rand
}

// NewSelector returns a selector drawing randomness from rng, or from a
// freshly seeded source when rng is nil.
func NewSelector(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Selector{rand: rng}
}

// approximateBestSubset searches for a subset of coins summing as close
// to target as possible without going under.  Each iteration makes two
// randomized passes: the first includes each coin with even odds, the
// second reconsiders only coins the first pass excluded.  A subset
// hitting the target exactly ends the search.
func (s *Selector) approximateBestSubset(coins []txstore.Credit,
	total, target btcutil.Amount) ([]bool, btcutil.Amount) {

	included := make([]bool, len(coins))
	best := make([]bool, len(coins))
	for i := range best {
		best[i] = true
	}
	bestValue := total

	for iter := 0; iter < subsetIterations && bestValue != target; iter++ {
		for i := range included {
			included[i] = false
		}
		var value btcutil.Amount
		reachedTarget := false
		for pass := 0; pass < 2 && !reachedTarget; pass++ {
			for i := range coins {
				var use bool
				if pass == 0 {
					use = s.rand.Intn(2) == 1
				} else {
					use = !included[i]
				}
				if !use {
					continue
				}
				value += coins[i].Amount
				included[i] = true
				if value >= target {
					reachedTarget = true
					if value < bestValue {
						bestValue = value
						copy(best, included)
					}
					value -= coins[i].Amount
					included[i] = false
				}
			}
		}
	}
	return best, bestValue
}

// selectMinConf selects from coins meeting the per-origin depth
// requirements: confMine for own outputs and confTheirs for others.
func (s *Selector) selectMinConf(coins []txstore.Credit,
	target btcutil.Amount, confMine,
	confTheirs int32) ([]txstore.Credit, btcutil.Amount, bool) {

	shuffled := make([]txstore.Credit, 0, len(coins))
	for _, c := range coins {
		need := confTheirs
		if c.FromMe {
			need = confMine
		}
		if c.Depth >= need {
			shuffled = append(shuffled, c)
		}
	}
	s.rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var (
		lower      []txstore.Credit
		lowerTotal btcutil.Amount
		larger     *txstore.Credit
	)
	for i := range shuffled {
		c := shuffled[i]
		switch {
		case c.Amount == target:
			return []txstore.Credit{c}, c.Amount, true
		case c.Amount < target+MinChange:
			lower = append(lower, c)
			lowerTotal += c.Amount
		case larger == nil || c.Amount < larger.Amount:
			larger = &shuffled[i]
		}
	}

	if lowerTotal == target {
		return lower, lowerTotal, true
	}
	if lowerTotal < target {
		if larger == nil {
			return nil, 0, false
		}
		return []txstore.Credit{*larger}, larger.Amount, true
	}

	// Solve the subset sum approximately, retrying against a target
	// padded by the minimum change when an exact hit is not found.
	sort.Slice(lower, func(i, j int) bool {
		return lower[i].Amount > lower[j].Amount
	})
	best, bestValue := s.approximateBestSubset(lower, lowerTotal, target)
	if bestValue != target && lowerTotal >= target+MinChange {
		best, bestValue = s.approximateBestSubset(lower, lowerTotal,
			target+MinChange)
	}

	// A single larger output beats a subset that overshoots without
	// reaching a clean change amount, or one worth more than it.
	if larger != nil && ((bestValue != target &&
		bestValue < target+MinChange) || larger.Amount <= bestValue) {

		return []txstore.Credit{*larger}, larger.Amount, true
	}

	var selected []txstore.Credit
	var total btcutil.Amount
	for i, use := range best {
		if use {
			selected = append(selected, lower[i])
			total += lower[i].Amount
		}
	}
	return selected, total, true
}

// SelectCoins chooses outputs worth at least target, honoring the coin
// control constraints.  Preset inputs are always included; remaining
// value is covered by tiered passes demanding 6 confirmations from
// foreign outputs, then 1, then admitting untrusted zero-confirmation
// outputs when allowed.
func (s *Selector) SelectCoins(coins []txstore.Credit,
	target btcutil.Amount,
	cc *CoinControl) ([]txstore.Credit, btcutil.Amount, error) {

	var (
		selected []txstore.Credit
		total    btcutil.Amount
	)
	if cc != nil && len(cc.PresetInputs) > 0 {
		byOutpoint := make(map[wire.OutPoint]txstore.Credit, len(coins))
		for _, c := range coins {
			byOutpoint[c.OutPoint] = c
		}
		for _, op := range cc.PresetInputs {
			c, ok := byOutpoint[op]
			if !ok {
				return nil, 0, fmt.Errorf("preset input %v is "+
					"not a spendable wallet output", op)
			}
			selected = append(selected, c)
			total += c.Amount
		}
		if !cc.AllowOtherInputs {
			if total < target {
				return nil, 0, &InsufficientFundsError{
					Target:    target,
					Available: total,
				}
			}
			return selected, total, nil
		}
	}
	if total >= target {
		return selected, total, nil
	}

	var candidates []txstore.Credit
	var available btcutil.Amount
	for _, c := range coins {
		if cc.isPreset(c.OutPoint) || cc.IsLocked(c.OutPoint) {
			continue
		}
		candidates = append(candidates, c)
		available += c.Amount
	}

	remaining := target - total
	tiers := [][2]int32{{1, 6}, {1, 1}}
	if cc != nil && cc.SpendZeroConf {
		tiers = append(tiers, [2]int32{0, 1})
	}
	for _, tier := range tiers {
		chosen, chosenTotal, ok := s.selectMinConf(candidates,
			remaining, tier[0], tier[1])
		if ok {
			return append(selected, chosen...), total + chosenTotal,
				nil
		}
	}
	return nil, 0, &InsufficientFundsError{
		Target:    target,
		Available: total + available,
	}
}
