package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/baxromumarov/scoped/v2"
	"github.com/baxromumarov/scoped/v2/observe"
)

var (
	demoWorkers int

	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Bind values, fork tasks that inherit them and report task metrics",
		RunE:  runDemo,
	}
)

func init() {
	demoCmd.Flags().IntVar(&demoWorkers, "workers", 4, "tasks forked per request")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	// Keys are created after flag parsing so --cache-size applies to them.
	requestID := scoped.NewKey[string]()
	userName := scoped.NewKey[string]()

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg, "scoped_demo")
	tracing := observe.NewTracing(nil)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var handled atomic.Int64
	handle := func(ctx context.Context) error {
		id, err := requestID.Get(ctx)
		if err != nil {
			return err
		}
		user := userName.OrElse(ctx, "anonymous")

		return scoped.Run(ctx, func(sp scoped.Spawner) {
			for i := range demoWorkers {
				sp.Go(fmt.Sprintf("%s/step-%d", id, i), func(ctx context.Context) error {
					got, err := requestID.Get(ctx)
					if err != nil {
						return err
					}
					if got != id {
						return fmt.Errorf("task saw request %q, want %q", got, id)
					}
					handled.Add(1)
					return nil
				})
			}
			fmt.Fprintf(out, "request %s for %s: forked %d tasks\n", id, user, demoWorkers)
		}, metrics.Option(), tracing.Option())
	}

	for i, user := range []string{"duke", "duchess", ""} {
		c := scoped.Where(requestID, fmt.Sprintf("req-%d", i+1))
		if user != "" {
			c = scoped.And(c, userName, user)
		}
		if _, err := scoped.Call(ctx, c, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, handle(ctx)
		}); err != nil {
			return err
		}
	}

	// Outside any binding the key is unbound again.
	if _, err := requestID.Get(ctx); !errors.Is(err, scoped.ErrUnbound) {
		return fmt.Errorf("request id still bound after run: %v", err)
	}

	// A scope left open inside a binding is closed when the binding ends.
	err := scoped.RunWhere(ctx, requestID, "req-leaky", func(ctx context.Context) {
		scoped.New(ctx)
	})
	fmt.Fprintf(out, "leaked scope detected: %v\n", errors.Is(err, scoped.ErrStructureViolation))

	fmt.Fprintf(out, "tasks handled: %d\n", handled.Load())
	return printMetrics(cmd, reg)
}

func printMetrics(cmd *cobra.Command, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(out, "%s%s %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(out, "%s%s %g\n", mf.GetName(), labels, m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(out, "%s_count%s %d\n", mf.GetName(), labels, m.GetHistogram().GetSampleCount())
			}
		}
	}
	return nil
}
