package monitoring

import (
	"context"
	"time"

	"github.com/compozy/recordstore/engine/store"
)

// InstrumentedStore wraps a store.Store and records a counter and a latency
// observation for every call. Results and errors pass through unchanged.
type InstrumentedStore struct {
	wrapped store.Store
	metrics *Metrics
	backend string
}

var _ store.Store = (*InstrumentedStore)(nil)

// Wrap decorates s with m.
func Wrap(s store.Store, m *Metrics) *InstrumentedStore {
	return &InstrumentedStore{wrapped: s, metrics: m, backend: s.Backend().String()}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() store.Store { return s.wrapped }

func (s *InstrumentedStore) Backend() store.Backend { return s.wrapped.Backend() }

func (s *InstrumentedStore) Connect(ctx context.Context) error {
	start := time.Now()
	err := s.wrapped.Connect(ctx)
	s.observe("connect", start, err)
	return err
}

func (s *InstrumentedStore) Insert(ctx context.Context, rec *store.Record) error {
	start := time.Now()
	err := s.wrapped.Insert(ctx, rec)
	s.observe("insert", start, err)
	return err
}

func (s *InstrumentedStore) Remove(ctx context.Context, email string) error {
	start := time.Now()
	err := s.wrapped.Remove(ctx, email)
	s.observe("remove", start, err)
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, email string) (*store.Record, error) {
	start := time.Now()
	rec, err := s.wrapped.Get(ctx, email)
	s.observe("get", start, err)
	return rec, err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]*store.Record, error) {
	start := time.Now()
	recs, err := s.wrapped.List(ctx)
	s.observe("list", start, err)
	return recs, err
}

func (s *InstrumentedStore) Disconnect(ctx context.Context) {
	start := time.Now()
	s.wrapped.Disconnect(ctx)
	s.observe("disconnect", start, nil)
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.duration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
	s.metrics.operations.WithLabelValues(s.backend, op, ResultLabel(err)).Inc()
}
