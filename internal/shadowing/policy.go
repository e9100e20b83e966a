package shadowing

import (
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/runtimevars"
)

// Data is the immutable shadowing-policy snapshot.
type Data struct {
	IndexRange       [2]int
	KeyFractionRange [2]float64

	ShadowPool      *backend.Pool
	ShadowType      string
	ValidateReplies bool

	// Names of runtime-vars entries that, when bound, override the
	// ranges above.
	IndexRangeRV       string
	KeyFractionRangeRV string
}

func (d Data) clone() *Data {
	c := d
	return &c
}

// DefaultShadowType is used when the config blob doesn't specify one,
// matching DEFAULT_SHADOW_POLICY in the original source.
const DefaultShadowType = "default"

// Policy is ShadowingPolicy: an atomically-replaceable Data plus an
// optional live subscription to runtimevars updates.
type Policy struct {
	data   atomic.Pointer[Data]
	handle *runtimevars.Handle
	logger *zap.Logger

	// onConfigLogicError, if set, is called (instead of just logging)
	// whenever a delivered update is rejected — wired to the worker's
	// stats sink so config-logic failures are countable.
	onConfigLogicError func(error)
}

// NewPolicy builds a Policy from an initial Data snapshot. If store is
// non-nil, the policy subscribes to it immediately; mirroring the
// original destructor's ordering, Close() must be called before the
// policy's other fields (in particular ShadowPool) are torn down.
func NewPolicy(initial *Data, store *runtimevars.Store, logger *zap.Logger, onConfigLogicError func(error)) *Policy {
	p := &Policy{logger: logger, onConfigLogicError: onConfigLogicError}
	p.data.Store(initial.clone())

	if store != nil {
		p.handle = store.Subscribe(p.onUpdate)
	}

	return p
}

// Data returns the current immutable snapshot.
func (p *Policy) Data() *Data {
	return p.data.Load()
}

// Close unsubscribes from runtimevars updates. Must be called before
// any other field of the policy (e.g. ShadowPool) is released.
func (p *Policy) Close() {
	if p.handle != nil {
		p.handle.Close()
		p.handle = nil
	}
}

// ShouldShadow reports whether a request with the given pool-client
// index and key should be mirrored to the shadow pool under the
// current snapshot.
func (p *Policy) ShouldShadow(index int, key []byte) bool {
	d := p.Data()
	if index < d.IndexRange[0] || index > d.IndexRange[1] {
		return false
	}
	frac := keyFraction(key)
	return frac >= d.KeyFractionRange[0] && frac <= d.KeyFractionRange[1]
}

// keyFraction deterministically maps a key into [0,1] using xxhash,
// so the same key always lands in the same fraction bucket across
// calls and across workers — needed so a fractional shadowing window
// shadows a stable set of keys rather than a different random subset
// on every request.
func keyFraction(key []byte) float64 {
	const maxUint32 = float64(^uint32(0))
	h := xxhash.Sum64(key)
	return float64(uint32(h)) / maxUint32
}

func (p *Policy) reportConfigLogicError(err error) {
	if p.onConfigLogicError != nil {
		p.onConfigLogicError(err)
	}
	if p.logger != nil {
		p.logger.Warn("shadowing policy: rejecting malformed runtime-vars update", zap.Error(err))
	}
}

// onUpdate applies an all-or-nothing update algorithm: a malformed
// update is rejected wholesale (data_ left untouched); a well-formed one
// replaces the whole Data snapshot atomically, touching only the
// fields that were actually bound in newVars.
func (p *Policy) onUpdate(_, newVars runtimevars.Vars) {
	if newVars == nil {
		return
	}

	current := p.Data()
	next := current.clone()

	updatedRange, updatedFraction := false, false

	if current.IndexRangeRV != "" {
		arr, ok := newVars.GetArray(current.IndexRangeRV)
		if ok {
			lo, hi, err := parseIntRange(arr)
			if err != nil {
				p.reportConfigLogicError(fmt.Errorf("config-logic: %s: %w", current.IndexRangeRV, err))
				return
			}
			next.IndexRange = [2]int{lo, hi}
			updatedRange = true
		}
	}

	if current.KeyFractionRangeRV != "" {
		arr, ok := newVars.GetArray(current.KeyFractionRangeRV)
		if ok {
			lo, hi, err := parseFractionRange(arr)
			if err != nil {
				p.reportConfigLogicError(fmt.Errorf("config-logic: %s: %w", current.KeyFractionRangeRV, err))
				return
			}
			next.KeyFractionRange = [2]float64{lo, hi}
			updatedFraction = true
		}
	}

	if !updatedRange && !updatedFraction {
		return
	}

	p.data.Store(next)
}

func parseIntRange(arr []interface{}) (lo, hi int, err error) {
	if len(arr) != 2 {
		return 0, 0, fmt.Errorf("index range must have exactly 2 elements, got %d", len(arr))
	}
	loF, ok1 := asNumber(arr[0])
	hiF, ok2 := asNumber(arr[1])
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("index range elements must be integers")
	}
	lo, hi = int(loF), int(hiF)
	if lo > hi {
		return 0, 0, fmt.Errorf("index range start %d > end %d", lo, hi)
	}
	return lo, hi, nil
}

func parseFractionRange(arr []interface{}) (lo, hi float64, err error) {
	if len(arr) != 2 {
		return 0, 0, fmt.Errorf("key fraction range must have exactly 2 elements, got %d", len(arr))
	}
	lo, ok1 := asNumber(arr[0])
	hi, ok2 := asNumber(arr[1])
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("key fraction range elements must be numbers")
	}
	if lo < 0 || hi > 1 || lo > hi {
		return 0, 0, fmt.Errorf("key fraction range [%v,%v] out of [0,1] or start > end", lo, hi)
	}
	return lo, hi, nil
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
