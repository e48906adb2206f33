// Package policy evaluates user-supplied predicates against a
// PolicyContext (spec §4.5) using a restricted, non-Turing-complete
// expression language rather than an embedded JS engine — see
// SPEC_FULL.md §11 for why expr-lang/expr stands in for the source's
// scripting VM.
package policy

import (
	"errors"
	"math"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"
)

type Kind string

const (
	Entry Kind = "entry"
	Exit  Kind = "exit"
)

var (
	ErrPolicyCompile = errors.New("policy compile error")
	ErrPolicyRuntime = errors.New("policy runtime error")
)

type cacheKey struct {
	kind     Kind
	policyID string
}

// Sandbox compiles and caches predicates by (kind, policy_id) and owns
// the per-pair custom_data bag plus the cross-pair global_data bag
// (spec §9's "dynamic per-pair scratch space").
type Sandbox struct {
	mu         sync.Mutex
	programs   map[cacheKey]*vm.Program
	disabled   map[cacheKey]bool
	log        *zap.Logger
	customData map[string]map[string]any
	globalData map[string]any
}

func NewSandbox(log *zap.Logger) *Sandbox {
	return &Sandbox{
		programs:   make(map[cacheKey]*vm.Program),
		disabled:   make(map[cacheKey]bool),
		log:        log,
		customData: make(map[string]map[string]any),
		globalData: make(map[string]any),
	}
}

// PurgeCustomData drops a pair's custom_data bag. The aggregation
// engine's pair eviction does not call it, so a bag stays in place after
// its PairState is evicted.
func (s *Sandbox) PurgeCustomData(pair string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.customData, pair)
}

// Evaluate compiles (or reuses) the predicate source for (kind, policyID)
// and runs it against ctx, returning a clamped action percent in [0,100].
// Compile and runtime errors are logged and treated as "no action",
// per spec §4.5/§7 — they are never propagated to the caller.
func (s *Sandbox) Evaluate(kind Kind, policyID, source string, ctx Context) int {
	if source == "" {
		return 0
	}
	key := cacheKey{kind: kind, policyID: policyID}

	s.mu.Lock()
	if s.disabled[key] {
		s.mu.Unlock()
		return 0
	}
	program, ok := s.programs[key]
	s.mu.Unlock()

	if !ok {
		env := s.envFor(ctx.Pair.PairAddress)
		compiled, err := expr.Compile(source, expr.Env(env))
		s.mu.Lock()
		if err != nil {
			s.disabled[key] = true
			s.mu.Unlock()
			if s.log != nil {
				s.log.Warn("policy predicate disabled: compile error",
					zap.String("category", "policy_compile"),
					zap.String("policy_id", policyID),
					zap.String("kind", string(kind)),
					zap.Error(err))
			}
			return 0
		}
		s.programs[key] = compiled
		s.mu.Unlock()
		program = compiled
	}

	env := s.envWithContext(ctx)
	out, err := expr.Run(program, env)
	if err != nil {
		if s.log != nil {
			s.log.Warn("policy predicate runtime error, treated as no action",
				zap.String("category", "policy_runtime"),
				zap.String("policy_id", policyID),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
		return 0
	}
	return clamp(out)
}

// envFor builds the compile-time environment shape used for type
// checking; field values are irrelevant at compile time.
func (s *Sandbox) envFor(pair string) map[string]any {
	return s.envWithContext(Context{})
}

func (s *Sandbox) envWithContext(ctx Context) map[string]any {
	pair := ctx.Pair.PairAddress
	s.mu.Lock()
	custom, ok := s.customData[pair]
	if !ok {
		custom = make(map[string]any)
		if pair != "" {
			s.customData[pair] = custom
		}
	}
	global := s.globalData
	s.mu.Unlock()

	return map[string]any{
		"event":       ctx.Event,
		"group":       ctx.Group,
		"groups":      ctx.Groups,
		"pair":        ctx.Pair,
		"trade":       ctx.Trade,
		"prices":      ctx.Prices,
		"gas":         ctx.Gas,
		"custom_data": custom,
		"global_data": global,
		"setCustom": func(key string, value any) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			custom[key] = value
			return true
		},
		"setGlobal": func(key string, value any) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			global[key] = value
			return true
		},
	}
}

// clamp interprets a predicate's return value per spec §4.5/I9:
// false/0 -> 0; true/100 -> 100; numeric in [1,99] -> that percentage;
// any other number clamps to [0,100]; NaN -> 0.
func clamp(value any) int {
	switch v := value.(type) {
	case bool:
		if v {
			return 100
		}
		return 0
	case int:
		return clampFloat(float64(v))
	case int64:
		return clampFloat(float64(v))
	case float64:
		return clampFloat(v)
	case float32:
		return clampFloat(float64(v))
	default:
		return 0
	}
}

func clampFloat(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	if f <= 0 {
		return 0
	}
	if f >= 100 {
		return 100
	}
	return int(f)
}
