package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownMethod is returned by Handle for an unregistered method name.
var ErrUnknownMethod = errors.New("unknown method")

// MethodFunc serves one method for the identity caller.
type MethodFunc func(ctx context.Context, caller string, params Params) (*HandleResult, error)

// Handler is a method table.
type Handler struct {
	mu      sync.RWMutex
	methods map[string]MethodFunc
}

func NewHandler() *Handler {
	return &Handler{methods: make(map[string]MethodFunc)}
}

// AddMethod registers fn under name, replacing any previous registration.
func (h *Handler) AddMethod(name string, fn MethodFunc) {
	h.mu.Lock()
	h.methods[name] = fn
	h.mu.Unlock()
}

func (h *Handler) Handle(ctx context.Context, caller, method string, params Params) (*HandleResult, error) {
	h.mu.RLock()
	fn, ok := h.methods[method]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
	}
	return fn(ctx, caller, params)
}

// Methods lists registered method names, sorted.
func (h *Handler) Methods() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.methods))
	for n := range h.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
