package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/baxromumarov/scoped/v2"
)

var (
	cacheSize int
	verbose   bool

	rootCmd = &cobra.Command{
		Use:   "scoped",
		Short: "Exercise scoped values and task scopes from the command line",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			scoped.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			// The cache size is read once, on first use.
			if cmd.Flags().Changed("cache-size") {
				return os.Setenv(scoped.CacheSizeEnv, strconv.Itoa(cacheSize))
			}
			return nil
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().IntVar(&cacheSize, "cache-size", 16,
		"per-thread lookup cache slots (power of two, 2-16)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(demoCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
