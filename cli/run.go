package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/compozy/recordstore/engine/infra/factory"
	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/config"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func runDemo(cmd *cobra.Command, backend, removeEmail string, dumpMetrics bool) (err error) {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	out := cmd.OutOrStdout()
	var opts []factory.Option
	if dumpMetrics {
		reg := prometheus.NewRegistry()
		opts = append(opts, factory.WithRegisterer(reg))
		defer func() {
			if werr := writeMetrics(out, reg); werr != nil {
				err = errors.Join(err, werr)
			}
		}()
	}
	return factory.With(ctx, backend, cfg, func(ctx context.Context, s store.Store) error {
		return demo(ctx, out, s, removeEmail)
	}, opts...)
}

func demo(ctx context.Context, out io.Writer, s store.Store, removeEmail string) error {
	log := logger.FromContext(ctx).With("store_driver", s.Backend())
	rec := &store.Record{Name: demoName, Email: demoEmail, Credential: demoCredential}
	if err := s.Insert(ctx, rec); err != nil {
		return err
	}
	log.Info("Record inserted", "email", rec.Email)
	fmt.Fprintf(out, "inserted %s into %s\n", rec.Email, s.Backend())
	if err := s.Remove(ctx, removeEmail); err != nil {
		return err
	}
	log.Info("Record removed", "email", removeEmail)
	fmt.Fprintf(out, "removed %s from %s\n", removeEmail, s.Backend())
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
