// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vanaheim-cache/vsl/internal/config"
	"github.com/vanaheim-cache/vsl/internal/ctl"
	"github.com/vanaheim-cache/vsl/internal/obs"
	"github.com/vanaheim-cache/vsl/internal/vsc"
	"github.com/vanaheim-cache/vsl/internal/vslring"
	"github.com/vanaheim-cache/vsl/internal/vsm"
)

// Cmd holds the flags shared across vsl-agent's subcommands.
type Cmd struct {
	ConfigPath string
	CtlAddr    string // where a "debug" subcommand reaches a running agent
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "vsl-agent",
	Short: "Shared-memory structured logging and counters agent",
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&cmd.CtlAddr, "ctl-addr", "http://127.0.0.1:9212", "Address of a running agent's control endpoint")

	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect or mutate a running agent over its control endpoint",
	}
	debugCmd.AddCommand(debugXIDCmd())
	debugCmd.AddCommand(debugListenAddressCmd())
	rootCmd.AddCommand(debugCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func serve(cmd Cmd) error {
	cfg, err := loadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	arenaPath := cfg.ArenaPath + "/arena"
	if err := os.MkdirAll(cfg.ArenaPath, 0o755); err != nil {
		return fmt.Errorf("create arena dir: %w", err)
	}

	// VSLSpace covers the log ring; VSC documents/counters get an equal
	// share on top so a busy instance doesn't immediately hit
	// vsm.ErrExhausted while registering its first batch of counters.
	arenaCap := int64(cfg.VSLSpace) * 2
	arena, err := vsm.Open(arenaPath, arenaCap)
	if err != nil {
		return fmt.Errorf("open arena: %w", err)
	}
	defer arena.Close()

	ring, err := vslring.New(arena, "vsl", int64(cfg.VSLSpace), cfg.VSLRecLen)
	if err != nil {
		return fmt.Errorf("init log ring: %w", err)
	}

	counters := vsc.New(arena)
	vxid := vslring.NewVXIDAllocator(1)

	obs.L.Info("vsl-agent starting",
		zap.String("arena_path", arenaPath),
		zap.String("listen_address", cfg.ListenAddress),
		zap.Int64("vsl_space", int64(cfg.VSLSpace)),
		zap.Int("vsl_reclen", cfg.VSLRecLen),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	ctl.New(vxid, cfg.ListenAddress).Register(mux)

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	go func() {
		if err := runMainCounter(ctx, counters, ring); err != nil {
			obs.L.Error("main counter registration failed", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		obs.L.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SendTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func debugXIDCmd() *cobra.Command {
	var seed uint32
	c := &cobra.Command{
		Use:   "xid [seed]",
		Short: "Report or reseed the running agent's VXID allocator",
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return httpGetJSON(cmd.CtlAddr + "/debug/xid")
			}
			_, err := fmt.Sscanf(args[0], "%d", &seed)
			if err != nil {
				return fmt.Errorf("invalid seed %q: %w", args[0], err)
			}
			return httpPostJSON(cmd.CtlAddr+"/debug/xid", fmt.Sprintf(`{"seed":%d}`, seed))
		},
	}
	return c
}

func debugListenAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen-address",
		Short: "Query the running agent's bound control address",
		RunE: func(_ *cobra.Command, _ []string) error {
			return httpGetJSON(cmd.CtlAddr + "/debug/listen_address")
		},
	}
}
