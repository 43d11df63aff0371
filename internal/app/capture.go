package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/gait_computer/internal/capture"
	"github.com/relabs-tech/gait_computer/internal/config"
	"github.com/relabs-tech/gait_computer/internal/sim"
)

var errNoConfig = errors.New("configuration not initialised")

// RunLive captures from the receiver's serial port until ctx is cancelled.
func RunLive(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return errNoConfig
	}
	log.Printf("starting gait-computer live capture on %s", cfg.SerialPort)
	src := capture.NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate)
	return newPipeline(cfg).run(ctx, src, false)
}

// RunReplay plays back a binary log with its original timing. An empty path
// falls back to REPLAY_PATH.
func RunReplay(ctx context.Context, path string) error {
	cfg := config.Get()
	if cfg == nil {
		return errNoConfig
	}
	if path == "" {
		path = cfg.ReplayPath
	}
	if path == "" {
		return errors.New("no replay log given (set REPLAY_PATH or pass a path)")
	}
	log.Printf("starting gait-computer replay of %s", path)
	return newPipeline(cfg).run(ctx, capture.NewReplaySource(path), true)
}

// RunSynth writes a synthetic replay log to path.
func RunSynth(path string, opts sim.Options) error {
	start := time.Now()
	sum, err := sim.WriteLog(path, opts)
	if err != nil {
		return err
	}
	log.Printf("synth: wrote %s frames (%d corrupted), %s to %s in %s",
		humanize.Comma(int64(sum.Frames)), sum.Corrupted, humanize.Bytes(sum.Bytes),
		path, time.Since(start).Round(time.Millisecond))
	return nil
}
