package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/LdDl/mot-lifecycle/config"
	"github.com/LdDl/mot-lifecycle/lifecycle"
	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/LdDl/mot-lifecycle/pipeline"
	"github.com/LdDl/mot-lifecycle/storage/postgres"
	"github.com/LdDl/mot-lifecycle/storage/sqlite"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const maxLineSize = 16 * 1024 * 1024

type replayOptions struct {
	ConfigPath string
	InputPath  string
	SQLitePath string
	DBURL      string
	NoProgress bool
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay JSON-lines detection log through tracker, counting lines and identity lifecycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd.Context(), replayOpts, cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.ConfigPath, "config", "c", "", "Stream configuration (.json). Defaults are used when omitted")
	replayCmd.Flags().StringVarP(&replayOpts.InputPath, "input", "i", "", "JSON-lines detections file, '-' for stdin")
	replayCmd.Flags().StringVar(&replayOpts.SQLitePath, "sqlite", "", "Store records and crossings into SQLite file")
	replayCmd.Flags().StringVar(&replayOpts.DBURL, "db", "", "Store records into PostgreSQL, e.g. postgres://localhost:5432/mot")
	replayCmd.Flags().BoolVar(&replayOpts.NoProgress, "no-progress", false, "Disable progress bar")
	replayCmd.MarkFlagRequired("input")
	replayCmd.MarkFlagsMutuallyExclusive("sqlite", "db")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, opts replayOptions, out io.Writer) error {
	log := logrus.StandardLogger()

	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
	}

	input, size, err := openInput(opts.InputPath)
	if err != nil {
		return err
	}
	defer input.Close()

	var (
		observers = []mot.CrossingObserver{crossingLogger(log)}
		options   []lifecycle.Option
	)
	switch {
	case opts.SQLitePath != "":
		store, err := sqlite.Open(opts.SQLitePath, sqlite.WithStreamID(cfg.StreamID), sqlite.WithLogger(log))
		if err != nil {
			return err
		}
		defer store.Close()
		observers = append(observers, store)
		options = append(options, lifecycle.WithSink(store))
	case opts.DBURL != "":
		store, err := postgres.New(ctx, opts.DBURL)
		if err != nil {
			return err
		}
		// Main context may be cancelled already
		defer store.Close(context.Background())
		options = append(options, lifecycle.WithSink(store))
	default:
		options = append(options, lifecycle.WithSink(recordLogger(log)))
	}

	stream, err := pipeline.FromConfig(cfg, log, observers, options...)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !opts.NoProgress {
		bar = progressbar.NewOptions64(size,
			progressbar.OptionSetDescription("Replaying"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
		)
	}

	start := time.Now().UTC()
	frameTime := func(index int) time.Time {
		return cfg.FrameTime(start, index)
	}
	replayErr := replayLines(ctx, stream, input, frameTime, bar, log)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	// Flush identities even when replay was interrupted
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stream.Close(closeCtx); err != nil {
		log.WithError(err).Error("Can't close stream")
	}
	printSummary(out, stream)
	if errors.Is(replayErr, context.Canceled) {
		log.Warn("Replay interrupted")
		return nil
	}
	return replayErr
}

func openInput(path string) (io.ReadCloser, int64, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), -1, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrap(err, "Can't open input")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, errors.Wrap(err, "Can't stat input")
	}
	return file, info.Size(), nil
}

func replayLines(ctx context.Context, stream *pipeline.Stream, input io.Reader, frameTime func(int) time.Time, bar *progressbar.ProgressBar, log logrus.FieldLogger) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineIndex := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if bar != nil {
			bar.Add(len(line) + 1)
		}
		if len(line) == 0 {
			lineIndex++
			continue
		}
		frame, dropped, err := parseFrameLine(line, lineIndex, frameTime)
		lineIndex++
		if err != nil {
			log.WithError(err).Warn("Line skipped")
			continue
		}
		if dropped > 0 {
			log.WithFields(logrus.Fields{"frame": frame.Index, "dropped": dropped}).Debug("Malformed detections dropped")
		}
		if _, err := stream.ProcessFrame(ctx, frame); err != nil {
			if errors.Is(err, pipeline.ErrTimestampOrder) {
				log.WithError(err).Warn("Frame skipped")
				continue
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "Can't read input")
	}
	return nil
}

func crossingLogger(log logrus.FieldLogger) mot.CrossingObserver {
	return mot.CrossingObserverFunc(func(event mot.CrossingEvent) {
		log.WithFields(logrus.Fields{
			"line":      event.LineName,
			"direction": event.Direction,
			"track_id":  event.TrackID,
			"class":     event.ClassName,
		}).Info("Line crossed")
	})
}

func recordLogger(log logrus.FieldLogger) lifecycle.RecordSink {
	return lifecycle.RecordSinkFunc(func(ctx context.Context, record *lifecycle.Record) error {
		log.WithFields(logrus.Fields{
			"uuid":       record.UUID,
			"status":     record.Status,
			"direction":  record.Direction,
			"entry_zone": record.EntryZone,
			"exit_zone":  record.ExitZone,
			"gender":     record.Gender,
		}).Info("Identity record")
		return nil
	})
}

func printSummary(out io.Writer, stream *pipeline.Stream) {
	fmt.Fprintf(out, "Frames processed: %d\n", stream.Frames())
	for _, summary := range stream.Counts() {
		fmt.Fprintf(out, "Line %s:", summary.Name)
		for _, label := range summary.Labels {
			fmt.Fprintf(out, " [%s]", label)
		}
		if summary.Counts.Other > 0 {
			fmt.Fprintf(out, " [Other: %d]", summary.Counts.Other)
		}
		fmt.Fprintln(out)
	}
	if manager := stream.Manager(); manager != nil {
		stats := manager.Stats()
		fmt.Fprintf(out, "Identities: created=%d recovered=%d finalized=%d discarded=%d persisted=%d persist_failures=%d\n",
			stats.Created, stats.Recovered, stats.Finalized, stats.Discarded, stats.Persisted, stats.PersistFailures)
	}
}
