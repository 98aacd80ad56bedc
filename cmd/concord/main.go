// Package main implements the concord host binary. The core packages under
// internal/ are host-agnostic; this binary supplies config loading, process
// lifecycle, and the optional collaborators (LLM, embedding, persistence).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"concord/internal/config"
	"concord/internal/engine"
)

var (
	cfgPath string

	rootCmd = &cobra.Command{
		Use:   "concord",
		Short: "Governed cognition substrate",
		Long: `concord runs the governed cognition substrate: a DTU knowledge store
with epistemic and normative gates, a replayable event bus, heartbeats,
and the autogen pipeline.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the substrate until interrupted",
		RunE:  runServe,
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Print the current engine snapshot as JSON",
		RunE:  runSnapshot,
	}

	replayCmd = &cobra.Command{
		Use:   "replay [seed]",
		Short: "Restore the persisted snapshot, then replay this process's bus events deterministically (events are not persisted)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReplay,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to concord.yaml")
	rootCmd.AddCommand(serveCmd, snapshotCmd, replayCmd)
}

func buildEngine() (*engine.Engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Stop()

	if ok, err := e.LoadSnapshot(); err != nil {
		return err
	} else if ok {
		fmt.Fprintln(os.Stderr, "restored persisted snapshot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.Start(ctx)
	fmt.Fprintln(os.Stderr, "concord running; ctrl-c to stop")
	<-ctx.Done()

	if err := e.SaveSnapshot(); err != nil {
		fmt.Fprintf(os.Stderr, "snapshot on shutdown failed: %v\n", err)
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Stop()

	if _, err := e.LoadSnapshot(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	seed := "default"
	if len(args) > 0 {
		seed = args[0]
	}

	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Stop()

	if _, err := e.LoadSnapshot(); err != nil {
		return err
	}
	events := e.Bus.Snapshot(0, 0)
	result := e.Replay.Replay(events, seed, "")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
