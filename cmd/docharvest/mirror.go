package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ligustah/docharvest/internal/archive"
	"github.com/ligustah/docharvest/internal/config"
	"github.com/ligustah/docharvest/internal/progress"
)

// runMirror uploads the whole filed document tree to object storage.
func runMirror(args []string) int {
	fs := flag.NewFlagSet("mirror", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	destination := fs.String("destination", "", "Root of the filed document tree")
	bucket := fs.String("bucket", "", "Bucket URL (s3://, gs://, file://)")
	prefix := fs.String("prefix", "", "Object key prefix")
	concurrency := fs.Int("concurrency", 0, "Parallel uploads (default 4)")
	maxSize := fs.String("max-size", "", "Skip documents larger than this (e.g. 50MB)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: docharvest mirror [options]

Upload every filed document under the destination to a bucket as
<prefix>/<entity>/<entity>-<label>.pdf. Objects that already exist with the
same size are not uploaded again.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	logger, err := newLogger(*logLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	slog.SetDefault(logger)

	override := config.Config{
		Destination: *destination,
		Archive: config.ArchiveConfig{
			Bucket:      *bucket,
			Prefix:      *prefix,
			Concurrency: *concurrency,
		},
	}
	if *maxSize != "" {
		n, err := progress.ParseBytes(*maxSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid max size: %v\n", err)
			return ExitInvalidArgs
		}
		override.Archive.MaxSize = n
	}

	cfg, err := loadConfig(*configPath, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Archive.Bucket == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	docs, err := archive.Collect(cfg.Destination)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := mirrorDocuments(ctx, cfg.Archive, docs, logger)
	fmt.Fprintf(os.Stderr, "[docharvest] Uploaded %d documents (%s), %d unchanged, %d too large\n",
		res.Uploaded, progress.FormatBytes(res.Bytes), res.Skipped, res.TooLarge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	return ExitSuccess
}
