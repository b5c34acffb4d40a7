// Package routing maps classified intents onto handler actions. Rules are
// matched in declaration order; a rule may carry an expression guard that
// is evaluated against the classification context.
package routing

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// Env is the variable set available to rule guard expressions.
type Env struct {
	Intent     string            `expr:"intent"`
	Confidence float64           `expr:"confidence"`
	Tier       string            `expr:"tier"`
	Lang       string            `expr:"lang"`
	Repeats    int               `expr:"repeats"`
	Slots      map[string]string `expr:"slots"`
}

// Decision is the outcome of routing one classification.
type Decision struct {
	Intent  string
	Action  string
	Matched bool
}

// Router evaluates routing rules against classification results. Compiled
// guard programs are cached per configuration version.
type Router struct {
	config contracts.ConfigProvider

	mu       sync.Mutex
	programs map[string]*vm.Program
	version  uint64
}

// New creates a router over the configuration provider.
func New(config contracts.ConfigProvider) *Router {
	return &Router{
		config:   config,
		programs: make(map[string]*vm.Program),
	}
}

// Route returns the action for the first rule matching the intent whose
// guard (if any) evaluates true. A guard that fails to compile or
// evaluate is logged and treated as not matching; routing never errors.
func (r *Router) Route(env Env) Decision {
	for _, rule := range r.config.RoutingRules() {
		if rule.Intent != env.Intent {
			continue
		}
		if rule.Condition != "" && !r.guardHolds(rule, env) {
			continue
		}
		return Decision{Intent: env.Intent, Action: rule.Action, Matched: true}
	}
	return Decision{Intent: env.Intent}
}

func (r *Router) guardHolds(rule models.RoutingRule, env Env) bool {
	program, err := r.compile(rule.Condition)
	if err != nil {
		log.Warn().Err(err).
			Str("intent", rule.Intent).
			Str("condition", rule.Condition).
			Msg("Routing guard failed to compile, skipping rule")
		return false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		log.Warn().Err(err).
			Str("intent", rule.Intent).
			Str("condition", rule.Condition).
			Msg("Routing guard failed to evaluate, skipping rule")
		return false
	}
	hold, ok := out.(bool)
	return ok && hold
}

// compile returns the cached program for a guard, clearing the cache when
// the configuration version moved.
func (r *Router) compile(condition string) (*vm.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v := r.config.Version(); v != r.version {
		r.programs = make(map[string]*vm.Program)
		r.version = v
	}
	if p, ok := r.programs[condition]; ok {
		return p, nil
	}
	p, err := expr.Compile(condition, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile guard: %w", err)
	}
	r.programs[condition] = p
	return p, nil
}
