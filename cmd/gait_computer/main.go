// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/gait_computer/internal/app"
	"github.com/relabs-tech/gait_computer/internal/config"
	"github.com/relabs-tech/gait_computer/internal/sim"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gait_computer",
	Short: "Capture, process and distribute wearable gait sensor telemetry",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.InitGlobal(configPath)
	},
	SilenceUsage: true,
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Capture from the receiver on the configured serial port",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunLive(cmd.Context())
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay [log]",
	Short: "Replay a binary session log with its original timing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return app.RunReplay(cmd.Context(), path)
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Print the samples and joint angles published on MQTT",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunConsole(cmd.Context())
	},
}

var synthOpts sim.Options

var synthCmd = &cobra.Command{
	Use:   "synth <log>",
	Short: "Write a synthetic binary session log for replay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunSynth(args[0], synthOpts)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (KEY=VALUE, or YAML by extension)")

	synthCmd.Flags().DurationVarP(&synthOpts.Duration, "duration", "d", 10*time.Second, "simulated session length")
	synthCmd.Flags().Float64Var(&synthOpts.RateHz, "rate", 50, "ticks per second")
	synthCmd.Flags().Float64Var(&synthOpts.StepHz, "step", 1, "gait cycles per second")
	synthCmd.Flags().IntVar(&synthOpts.CorruptEvery, "corrupt-every", 0, "flip a bit in every Nth frame (0 disables)")
	synthCmd.Flags().Uint64Var(&synthOpts.Seed, "seed", 1, "noise seed")

	rootCmd.AddCommand(liveCmd, replayCmd, consoleCmd, synthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("fatal: %v", err)
	}
}
