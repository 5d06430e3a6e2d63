package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/layoutsync/pkg/pipeline"
	"github.com/a-essam23/layoutsync/pkg/protocol"
)

/*
* The central registry for all message handlers and the modifiers guarding them.
* It is a single, stateful object built once at startup.
 */
type Registry struct {
	logger *slog.Logger

	handlers  map[protocol.Type]pipeline.Step
	handlerMu sync.RWMutex

	modifiers  map[string]pipeline.ModifierFunc
	modifierMu sync.RWMutex
}

type RegisterCoreOptions struct {
	// RateLimit caps the frames one connection may send per RateWindow.
	// Zero disables the limit.
	RateLimit  int
	RateWindow time.Duration
}

// New creates and initializes a new Registry instance.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		handlers:  make(map[protocol.Type]pipeline.Step),
		modifiers: make(map[string]pipeline.ModifierFunc),
		logger:    logger.With(slog.String("component", "engine")),
	}
}

func (e *Registry) RegisterCore(opts *RegisterCoreOptions) {
	e.registerCoreModifiers(opts)
	e.registerCoreHandlers()
}

func (e *Registry) registerCoreModifiers(opts *RegisterCoreOptions) {
	e.RegisterModifier("room_scope", modifierRoomScope)
	e.RegisterModifier("rate_limit", newRateLimitModifier(e.logger, opts.RateLimit, opts.RateWindow))
	e.logger.Info("Registered core modifiers", slog.Any("count", len(e.modifiers)))
}

func (e *Registry) registerCoreHandlers() {
	e.RegisterHandler(protocol.TypeSync, handleSync, "rate_limit", "room_scope")
	e.RegisterHandler(protocol.TypeUpdate, handleUpdate, "rate_limit", "room_scope")
	e.logger.Info("Registered core handlers", slog.Any("count", len(e.handlers)))
}

// --- Handler Methods ---

// RegisterHandler binds a message type to fn, guarded by the named modifiers in
// order. Modifiers must be registered first.
func (e *Registry) RegisterHandler(t protocol.Type, fn pipeline.HandlerFunc, modifiers ...string) {
	step := pipeline.Step{Handler: fn}
	for _, name := range modifiers {
		mod, ok := e.GetModifierFunc(name)
		if !ok {
			panic("unknown modifier for handler " + string(t) + ": " + name)
		}
		step.Modifiers = append(step.Modifiers, mod)
	}

	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	if _, exists := e.handlers[t]; exists {
		panic("handler already registered: " + string(t))
	}
	e.handlers[t] = step
}

func (e *Registry) GetHandler(t protocol.Type) (pipeline.Step, bool) {
	e.handlerMu.RLock()
	defer e.handlerMu.RUnlock()
	step, ok := e.handlers[t]
	return step, ok
}

// --- Modifier Methods ---

func (e *Registry) RegisterModifier(name string, fn pipeline.ModifierFunc) {
	e.modifierMu.Lock()
	defer e.modifierMu.Unlock()
	if _, exists := e.modifiers[name]; exists {
		panic("modifier function already registered: " + name)
	}
	e.modifiers[name] = fn
}

func (e *Registry) GetModifierFunc(name string) (pipeline.ModifierFunc, bool) {
	e.modifierMu.RLock()
	defer e.modifierMu.RUnlock()
	fn, ok := e.modifiers[name]
	return fn, ok
}

// Run executes a step: every modifier, then the handler.
func Run(step pipeline.Step, pctx *pipeline.Cargo) error {
	for _, mod := range step.Modifiers {
		if err := mod(pctx); err != nil {
			return err
		}
	}
	return step.Handler(pctx)
}
