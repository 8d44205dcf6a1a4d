// Command mediaparse demuxes media streams and logs what it finds.
//
// With file arguments it parses each file concurrently, choosing the
// container from the extension (.webm, .aac, anything else is MPEG-TS), and
// logs a per-track summary. Without arguments it listens for SRT publishers
// and parses every published stream until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mediaparse/internal/ingest"
	srtingest "github.com/zsiec/mediaparse/internal/ingest/srt"
	"github.com/zsiec/mediaparse/internal/pipeline"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	readSize, err := strconv.Atoi(envOr("READ_SIZE", strconv.Itoa(pipeline.DefaultReadSize)))
	if err != nil || readSize <= 0 {
		slog.Error("invalid READ_SIZE", "value", os.Getenv("READ_SIZE"))
		os.Exit(2)
	}

	a := &app{readSize: readSize}
	if len(os.Args) > 1 {
		err = a.parseFiles(ctx, os.Args[1:])
	} else {
		err = a.serve(ctx)
	}
	if err != nil {
		slog.Error("mediaparse failed", "error", err)
		os.Exit(1)
	}
}

type app struct {
	readSize int
}

// parseFiles parses every file concurrently and logs their summaries in
// argument order.
func (a *app) parseFiles(ctx context.Context, paths []string) error {
	summaries := make([]*summary, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		summaries[i] = newSummary()
		g.Go(func() error {
			return a.parseFile(ctx, path, summaries[i])
		})
	}
	err := g.Wait()

	for i, path := range paths {
		summaries[i].log(slog.Default().With("file", path))
	}
	return err
}

func (a *app) parseFile(ctx context.Context, path string, sink *summary) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := pipeline.New(filepath.Base(path), f, ingest.FormatFromName(path), sink,
		pipeline.WithReadSize(a.readSize))
	if err != nil {
		return err
	}
	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// serve runs the SRT listener, and a caller when SRT_PULL_ADDR names a
// remote source, until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srtAddr := envOr("SRT_ADDR", ":6000")
	pullAddr := envOr("SRT_PULL_ADDR", "")

	slog.Info("mediaparse starting", "version", version, "srt", srtAddr, "read_size", a.readSize)

	g, ctx := errgroup.WithContext(ctx)

	// Created after errgroup so stream goroutines observe the group context.
	registry := ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		a.handleNewStream(ctx, key, input, format)
	}, nil)

	srtSrv := srtingest.NewServer(srtAddr, registry, nil)
	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	if pullAddr != "" {
		caller := srtingest.NewCaller(registry, nil)
		req := srtingest.PullRequest{
			Address:   pullAddr,
			StreamKey: envOr("SRT_PULL_KEY", "pull"),
			StreamID:  os.Getenv("SRT_PULL_STREAM_ID"),
		}
		g.Go(func() error {
			return caller.Pull(ctx, req)
		})
	}

	return g.Wait()
}

func (a *app) handleNewStream(ctx context.Context, key string, input io.Reader, format ingest.InputFormat) {
	log := slog.With("stream", key)
	log.Info("new stream from ingest", "format", format)

	sink := newSummary()
	defer sink.log(log)

	p, err := pipeline.New(key, input, format, sink, pipeline.WithReadSize(a.readSize))
	if err != nil {
		log.Error("pipeline setup failed", "error", err)
		drain(input)
		return
	}
	if err := p.Run(ctx); err != nil {
		log.Error("pipeline error", "error", err)
		// Keep reading so the receiver is not blocked on the pipe.
		drain(input)
	}
	log.Info("stream ended", "bytes", p.Stats().BytesRead)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
