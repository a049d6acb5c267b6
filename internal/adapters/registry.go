// Package adapters resolves which execution adapter handles a given
// platform. Concrete platform adapters (OnlyFans, Instagram, ...) are
// external collaborators registered by the process entry point; this package
// only owns the lookup and a logging stand-in for local development.
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/domain"
	"github.com/KofiRusu/OFAuto-v1.2-sub005/internal/errval"
)

// Registry maps platform types to adapters and resolves platform ids
// through the platform store.
type Registry struct {
	platforms domain.PlatformStore
	mu        sync.RWMutex
	byType    map[string]domain.ExecutionAdapter
}

func NewRegistry(platforms domain.PlatformStore) *Registry {
	return &Registry{
		platforms: platforms,
		byType:    make(map[string]domain.ExecutionAdapter),
	}
}

// Register binds an adapter to a platform type, replacing any previous one.
func (r *Registry) Register(platformType string, adapter domain.ExecutionAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[platformType] = adapter
}

// Resolve looks up the platform record, then the adapter for its type.
func (r *Registry) Resolve(ctx context.Context, platformID string) (domain.ExecutionAdapter, error) {
	platform, err := r.platforms.GetPlatformByID(ctx, platformID)
	if err != nil {
		return nil, fmt.Errorf("resolving platform %s: %w", platformID, err)
	}

	r.mu.RLock()
	adapter, ok := r.byType[platform.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform type %q: %w", platform.Type, errval.ErrNotFound)
	}

	return adapter, nil
}

// Funcs adapts two plain functions into an ExecutionAdapter. Handy in tests
// and for one-off adapters.
type Funcs struct {
	Execute func(ctx context.Context, payload map[string]any) (*domain.ExecutionResult, error)
	Send    func(ctx context.Context, dm domain.DirectMessage) (*domain.SendResult, error)
}

func (f Funcs) ExecuteTask(ctx context.Context, payload map[string]any) (*domain.ExecutionResult, error) {
	if f.Execute == nil {
		return &domain.ExecutionResult{Success: true}, nil
	}
	return f.Execute(ctx, payload)
}

func (f Funcs) SendDirectMessage(ctx context.Context, dm domain.DirectMessage) (*domain.SendResult, error) {
	if f.Send == nil {
		return &domain.SendResult{Success: true}, nil
	}
	return f.Send(ctx, dm)
}

// NewLogging returns an adapter that only logs what it would have done.
// Used by the worker when no real adapter is configured for a platform type.
func NewLogging(platformType string) domain.ExecutionAdapter {
	return Funcs{
		Execute: func(_ context.Context, payload map[string]any) (*domain.ExecutionResult, error) {
			slog.Info("dry-run task execution", "platform_type", platformType, "task_type", payload["taskType"])
			return &domain.ExecutionResult{Success: true, Fields: map[string]any{"dry_run": true}}, nil
		},
		Send: func(_ context.Context, dm domain.DirectMessage) (*domain.SendResult, error) {
			slog.Info("dry-run direct message", "platform_type", platformType, "user_id", dm.UserID)
			return &domain.SendResult{Success: true, MessageID: "dry-run"}, nil
		},
	}
}
