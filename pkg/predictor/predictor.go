// Package predictor implements branch prediction: a branch history
// register, a branch target table, and a choice of direction
// predictors (static, BTFNT, and 1-/2-bit Smith counters), the state
// the fetch stage consults to choose its next PC before a branch
// resolves in execute (spec.md §2.6, §4.6).
package predictor

import "github.com/bassosimone/rvsim/pkg/types"

// DirectionKind selects which direction-prediction scheme the
// predictor uses (spec.md §4.6).
type DirectionKind int

// Supported direction predictors.
const (
	DirectionStatic DirectionKind = iota // always not-taken
	DirectionBTFNT                       // backward taken, forward not-taken
	DirectionSmith1Bit
	DirectionSmith2Bit
	DirectionSmith2BitHysteresis
)

// btbEntry is one branch target table row.
type btbEntry struct {
	valid  bool
	tag    uint64
	target types.Address
	state  uint8 // 2-bit saturating counter, interpretation depends on DirectionKind
}

// Predictor tracks per-PC branch history and direction state. Fetch
// calls Predict before a branch's outcome is known; Execute calls
// Update once the real outcome and target are resolved.
type Predictor struct {
	kind    DirectionKind
	btb     []btbEntry
	bhr     uint32 // branch history register, shifted in on every resolved branch
	bhrBits uint

	correct uint64
	total   uint64
}

// New constructs a predictor with the given direction scheme and a
// branch target table of btbSize entries (must be a power of two).
func New(kind DirectionKind, btbSize int, bhrBits uint) *Predictor {
	return &Predictor{kind: kind, btb: make([]btbEntry, btbSize), bhrBits: bhrBits}
}

// index addresses the branch target/history tables by [BHR bits | low
// instruction-address bits] (spec.md §4.8), so two static branches
// that alias on address alone still land in different rows once
// global history diverges.
func (p *Predictor) index(pc types.Address) int {
	n := len(p.btb)
	tableBits := log2(n)
	addrBits := tableBits
	if addrBits > p.bhrBits {
		addrBits -= p.bhrBits
	} else {
		addrBits = 0
	}
	pcLow := (pc.Raw() / 4) & ((1 << addrBits) - 1)
	bhr := uint64(p.bhr) & ((1 << p.bhrBits) - 1)
	key := (bhr << addrBits) | pcLow
	return int(key) % n
}

// log2 returns the base-2 logarithm of n, assumed to be a power of two.
func log2(n int) uint {
	var bits uint
	for (1 << bits) < n {
		bits++
	}
	return bits
}

// Prediction is the fetch-time guess for one branch instruction.
type Prediction struct {
	Taken  bool
	Target types.Address
}

// Predict returns the prediction for a branch at pc. fallthrough is
// the sequential next-PC to predict when the scheme guesses
// not-taken or no BTB entry exists yet.
func (p *Predictor) Predict(pc types.Address, fallthrough_ types.Address) Prediction {
	idx := p.index(pc)
	entry := p.btb[idx]
	hit := entry.valid && entry.tag == pc.Raw()

	if p.kind == DirectionBTFNT {
		// The displacement sign is only known once a branch has
		// resolved at least once and left its target in the BTB; a
		// cold miss predicts not-taken (spec.md §4.8: "predict taken
		// if target < instruction address").
		if hit && entry.target.Raw() < pc.Raw() {
			return Prediction{Taken: true, Target: entry.target}
		}
		return Prediction{Taken: false, Target: fallthrough_}
	}

	taken := p.predictDirection(pc, hit, entry.state)
	if !taken || !hit {
		return Prediction{Taken: taken && hit, Target: fallthrough_}
	}
	return Prediction{Taken: true, Target: entry.target}
}

func (p *Predictor) predictDirection(pc types.Address, hit bool, state uint8) bool {
	switch p.kind {
	case DirectionStatic:
		return false
	case DirectionSmith1Bit:
		return hit && state != 0
	default: // 2-bit and 2-bit-hysteresis both use a saturating counter; top bit is "taken"
		return hit && state >= 2
	}
}

// Update records the resolved outcome of a branch at pc, training the
// direction state, refreshing the BTB target, and tallying the
// global correct/wrong accuracy counters against predicted (the
// Prediction.Taken this same branch received at fetch time) — spec.md
// "Predictor state" ... "Global and per-row statistics track
// correct/wrong counts and accuracy percentage" (testable property
// 10).
func (p *Predictor) Update(pc types.Address, predicted bool, taken bool, target types.Address) {
	p.total++
	if predicted == taken {
		p.correct++
	}
	p.bhr = (p.bhr << 1) | boolToBit(taken)
	p.bhr &= (1 << p.bhrBits) - 1

	idx := p.index(pc)
	entry := &p.btb[idx]
	if !entry.valid || entry.tag != pc.Raw() {
		*entry = btbEntry{valid: true, tag: pc.Raw(), target: target, state: initialState(p.kind, taken)}
		return
	}
	entry.target = target
	entry.state = nextState(p.kind, entry.state, taken)
}

func initialState(kind DirectionKind, taken bool) uint8 {
	switch kind {
	case DirectionSmith1Bit:
		return boolToBit(taken)
	case DirectionSmith2Bit, DirectionSmith2BitHysteresis:
		if taken {
			return 2
		}
		return 1
	default:
		return 0
	}
}

func nextState(kind DirectionKind, state uint8, taken bool) uint8 {
	switch kind {
	case DirectionSmith1Bit:
		return boolToBit(taken)
	case DirectionSmith2Bit:
		if taken {
			if state < 3 {
				state++
			}
		} else if state > 0 {
			state--
		}
		return state
	case DirectionSmith2BitHysteresis:
		return nextStateHysteresis(state, taken)
	default:
		return state
	}
}

// nextStateHysteresis implements the four states SN(0)/WN(1)/WT(2)/ST(3)
// with a resistant strong band: a strong state that sees the opposite
// outcome only steps down to its weak neighbor (as in the plain 2-bit
// counter), but a weak state that sees the opposite outcome flips all
// the way to the opposite strong state (spec.md §4.8: "WT on NT goes
// to SNT, WNT on T goes to ST").
func nextStateHysteresis(state uint8, taken bool) uint8 {
	switch state {
	case 0: // SN
		if taken {
			return 1
		}
		return 0
	case 1: // WN
		if taken {
			return 3
		}
		return 0
	case 2: // WT
		if taken {
			return 3
		}
		return 0
	default: // ST
		if taken {
			return 3
		}
		return 2
	}
}

func boolToBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// BranchHistory returns the current branch history register, masked
// to the configured width.
func (p *Predictor) BranchHistory() uint32 { return p.bhr }

// Stats returns the cumulative (correct, total) prediction counts.
func (p *Predictor) Stats() (correct, total uint64) { return p.correct, p.total }

// Accuracy returns the integer-truncated percentage of correct
// predictions out of total, 0 if no prediction has resolved yet
// (spec.md testable property 10: "accuracy equals 100*K/N, integer
// truncation").
func (p *Predictor) Accuracy() int {
	if p.total == 0 {
		return 0
	}
	return int(100 * p.correct / p.total)
}
