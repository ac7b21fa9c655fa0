// SPDX-License-Identifier: MIT

// Command playtrack plays a simulated video against a watch-event backend and
// reports progress the way an embedded player session would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vidmember/watchtrack/internal/clock"
	"github.com/vidmember/watchtrack/internal/config"
	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/player"
	"github.com/vidmember/watchtrack/internal/tracker"
	"github.com/vidmember/watchtrack/internal/version"
	"github.com/vidmember/watchtrack/internal/watchevents"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "playtrack:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	videoID    string
	duration   float64
	watch      time.Duration
	pauseAfter time.Duration
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("playtrack", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	fs.StringVar(&opts.videoID, "video", "", "video host id to play")
	fs.Float64Var(&opts.duration, "duration", 600, "simulated video length in seconds")
	fs.DurationVar(&opts.watch, "watch", 30*time.Second, "how long to keep the session open")
	fs.DurationVar(&opts.pauseAfter, "pause-after", 0, "pause playback after this long (0 plays throughout)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.videoID = strings.TrimSpace(opts.videoID)
	switch {
	case opts.videoID == "":
		return opts, errors.New("-video is required")
	case opts.duration <= 0:
		return opts, fmt.Errorf("-duration must be positive, got %v", opts.duration)
	case opts.watch <= 0:
		return opts, fmt.Errorf("-watch must be positive, got %v", opts.watch)
	case opts.pauseAfter < 0:
		return opts, fmt.Errorf("-pause-after must not be negative, got %v", opts.pauseAfter)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}

	cfg, err := config.NewLoader(opts.configPath).Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	wtlog.Configure(wtlog.Config{Level: cfg.LogLevel, Service: "playtrack", Version: version.Version})
	logger := wtlog.WithComponent("playtrack")

	client, err := watchevents.New(watchevents.Config{
		BaseURL:          cfg.Client.BaseURL,
		Timeout:          cfg.Client.Timeout,
		UserID:           cfg.Client.UserID,
		BreakerThreshold: cfg.Client.BreakerThreshold,
		BreakerReset:     cfg.Client.BreakerReset,
	})
	if err != nil {
		return err
	}

	loader := player.NewSimLoader(clock.Real{}, opts.duration)
	tr, err := tracker.New(cfg.TrackerPolicy(), client, loader, tracker.WithLogger(logger))
	if err != nil {
		return err
	}

	session, err := tr.Open(ctx, opts.videoID)
	if err != nil {
		return err
	}
	defer func() {
		session.Close()
		session.Wait()
	}()

	p := loader.Last()
	select {
	case <-p.Ready():
	case <-ctx.Done():
		return nil
	}
	resume, _ := session.ResumeTime()
	fmt.Fprintf(out, "session %s: playing %s from %.1fs\n", session.ID(), opts.videoID, resume)
	p.Play()

	if opts.pauseAfter > 0 && opts.pauseAfter < opts.watch {
		if !sleep(ctx, opts.pauseAfter) {
			return nil
		}
		p.Pause()
		fmt.Fprintf(out, "paused at %.1fs\n", p.CurrentTime())
		sleep(ctx, opts.watch-opts.pauseAfter)
	} else {
		sleep(ctx, opts.watch)
	}

	fmt.Fprintf(out, "closing at %.1fs (%s)\n", p.CurrentTime(), session.State())
	return nil
}

// sleep waits d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
