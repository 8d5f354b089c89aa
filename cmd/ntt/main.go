// Package main implements ntt, a terminal scratchpad whose content is
// saved durably across a synchronized replica and a local database with
// an independent backup copy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roundrop/new-tab-text/internal/app"
	"github.com/roundrop/new-tab-text/internal/lifecycle"
)

var (
	configPath string
	noSync     bool
	mirrorPath string

	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ntt",
	Short: "A scratchpad that never loses your text",
	Long: `ntt opens a full-screen scratchpad. Everything you type is saved
automatically: debounced while you type, immediately when the terminal
loses focus, and one final time when the process exits. Content lives in
a local database with an independent backup copy, and optionally in a
NATS JetStream bucket shared between machines.

Examples:
  # Open the scratchpad
  ntt

  # Work offline, local replicas only
  ntt --no-sync

  # Keep a plain-text copy other tools can read and edit
  ntt --mirror ~/notes/scratch.txt`,
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/ntt/config.yaml)")
	rootCmd.Flags().BoolVar(&noSync, "no-sync", false, "disable the synchronized replica")
	rootCmd.Flags().StringVar(&mirrorPath, "mirror", "", "plain-text mirror file, picked up when edited externally")
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, app.Options{
		ConfigPath: configPath,
		NoSync:     noSync,
		MirrorPath: mirrorPath,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	// SIGINT/SIGTERM end the session; the teardown save runs before
	// exit. SIGTSTP is treated as losing the surface, forcing a save
	// before the shell suspends us.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGTSTP:
				a.Bus().Publish(lifecycle.Event{Kind: lifecycle.Suspend})
			default:
				cancel()
				return
			}
		}
	}()
	defer signal.Stop(sigCh)

	return a.Run(ctx)
}
