package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/recordstore/engine/infra/monitoring"
	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/config"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/sethvargo/go-retry"
)

const minBackoff = time.Millisecond

// Create resolves kind, builds the matching backend from cfg and connects
// it. Unknown kinds fail with store.ErrUnknownBackend before anything is
// constructed. Connect failures of kind ConnectionError are retried up to
// cfg.Factory.ConnectAttempts times; nothing else is retried.
func Create(ctx context.Context, kind string, cfg *config.Config, opts ...Option) (store.Store, error) {
	b, err := store.ParseBackend(kind)
	if err != nil {
		return nil, err
	}
	p := NewProvider(cfg, opts...)
	s, err := p.NewStore(b)
	if err != nil {
		return nil, err
	}
	if p.registerer != nil {
		m, err := monitoring.NewMetrics(p.registerer)
		if err != nil {
			return nil, fmt.Errorf("register store metrics: %w", err)
		}
		s = monitoring.Wrap(s, m)
	}
	if err := connect(ctx, s, p.cfg.Factory); err != nil {
		return nil, err
	}
	return s, nil
}

// With creates a connected store, hands it to fn and disconnects it on every
// exit path, including a panic in fn.
func With(
	ctx context.Context,
	kind string,
	cfg *config.Config,
	fn func(context.Context, store.Store) error,
	opts ...Option,
) error {
	s, err := Create(ctx, kind, cfg, opts...)
	if err != nil {
		return err
	}
	defer s.Disconnect(ctx)
	return fn(ctx, s)
}

// connect retries ConnectionError up to fc.ConnectAttempts times. When ctx
// ends between attempts the last connect error is returned, so the caller
// still sees a ConnectionError.
func connect(ctx context.Context, s store.Store, fc config.FactoryConfig) error {
	attempts := max(fc.ConnectAttempts, 1)
	if attempts == 1 {
		return s.Connect(ctx)
	}
	log := logger.FromContext(ctx).With("store_driver", s.Backend())
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(max(fc.ConnectBackoff, minBackoff)))
	attempt := 0
	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.Connect(ctx)
		if err == nil || !errors.Is(err, store.ErrConnection) {
			return err
		}
		lastErr = err
		if attempt < attempts {
			log.Warn("Store connect failed, retrying", "attempt", attempt, "max_attempts", attempts, "error", err)
		}
		return retry.RetryableError(err)
	})
	if err == nil || store.KindOf(err) != "" {
		return err
	}
	if lastErr != nil {
		log.Warn("Store connect abandoned", "attempts", attempt, "error", err)
		return lastErr
	}
	return store.NewError(store.KindConnection, s.Backend(), "connect", err)
}
