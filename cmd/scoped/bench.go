package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baxromumarov/scoped/v2"
)

var (
	benchKeys  int
	benchDepth int
	benchReads int

	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Time lookups through nested bindings, with and without the cache",
		RunE:  runBench,
	}
)

func init() {
	benchCmd.Flags().IntVar(&benchKeys, "keys", 8, "distinct keys read in the innermost binding")
	benchCmd.Flags().IntVar(&benchDepth, "depth", 16, "nested bindings above the innermost one")
	benchCmd.Flags().IntVar(&benchReads, "reads", 1_000_000, "lookups per measurement")
}

func runBench(cmd *cobra.Command, _ []string) error {
	if benchKeys <= 0 || benchDepth < 0 || benchReads <= 0 {
		return fmt.Errorf("keys and reads must be positive, depth non-negative")
	}
	keys := make([]*scoped.Key[int], benchKeys)
	var c *scoped.Carrier
	for i := range keys {
		keys[i] = scoped.NewKey[int]()
		c = scoped.And(c, keys[i], i)
	}
	filler := scoped.NewKey[int]()

	var nest func(ctx context.Context, depth int) error
	nest = func(ctx context.Context, depth int) error {
		if depth == 0 {
			return c.Run(ctx, func(ctx context.Context) {
				measure(ctx, cmd, keys)
			})
		}
		var err error
		if rerr := scoped.RunWhere(ctx, filler, depth, func(ctx context.Context) {
			err = nest(ctx, depth-1)
		}); rerr != nil {
			return rerr
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "cache slots: %d, keys: %d, depth: %d\n",
		scoped.CacheSize(), benchKeys, benchDepth)
	return nest(scoped.Isolate(context.Background()), benchDepth)
}

func measure(ctx context.Context, cmd *cobra.Command, keys []*scoped.Key[int]) {
	out := cmd.OutOrStdout()
	run := func(name string, before func()) {
		start := time.Now()
		for i := range benchReads {
			if before != nil {
				before()
			}
			if _, err := keys[i%len(keys)].Get(ctx); err != nil {
				fmt.Fprintln(out, err)
				return
			}
		}
		elapsed := time.Since(start)
		fmt.Fprintf(out, "%-8s %v/op\n", name, elapsed/time.Duration(benchReads))
	}
	run("cached", nil)
	run("uncached", func() { scoped.ClearCache(ctx) })
}
