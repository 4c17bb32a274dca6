package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Signal announces that a view was refreshed and dependent views may be
// outdated.
type Signal struct {
	UserID     string
	SourceView string
	Scope      string
}

// SignalHandler reacts to a published signal.
type SignalHandler func(ctx context.Context, sig Signal)

// InvalidationBus delivers refresh signals to views that depend on the
// source view. Delivery is synchronous: Publish returns after every
// subscriber ran.
type InvalidationBus struct {
	mu          sync.RWMutex
	subscribers map[string][]SignalHandler
	logger      *zap.Logger
}

// NewInvalidationBus constructs an empty bus.
func NewInvalidationBus(logger *zap.Logger) *InvalidationBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvalidationBus{subscribers: make(map[string][]SignalHandler), logger: logger}
}

// Subscribe registers handler for signals from sourceView.
func (b *InvalidationBus) Subscribe(sourceView string, handler SignalHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[sourceView] = append(b.subscribers[sourceView], handler)
}

// Publish delivers sig to subscribers of its source view and returns how many
// handlers ran. A panicking handler is logged and does not stop delivery.
func (b *InvalidationBus) Publish(ctx context.Context, sig Signal) int {
	b.mu.RLock()
	handlers := append([]SignalHandler(nil), b.subscribers[sig.SourceView]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(ctx, handler, sig)
	}
	return len(handlers)
}

func (b *InvalidationBus) deliver(ctx context.Context, handler SignalHandler, sig Signal) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("invalidation handler panicked",
				zap.String("source_view", sig.SourceView),
				zap.String("scope", sig.Scope),
				zap.Error(fmt.Errorf("%v", rec)))
		}
	}()
	handler(ctx, sig)
}
