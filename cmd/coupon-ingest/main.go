package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		opts        options
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing coupon files")
	flag.StringVar(&pattern, "pattern", "*.ndjson.gz", "glob of gzip NDJSON coupon files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "postgres DSN, defaults to $DATABASE_URL")
	flag.UintVar(&opts.Expected, "expected", 1_000_000, "expected records per file, sizes the bloom filters")
	flag.Float64Var(&opts.FPR, "fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&opts.BatchSize, "batch-size", 5000, "coupons per COPY batch")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("no database: pass -database-url or set DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, filepath.Join(dataDir, pattern), databaseURL, opts)
	stop()
	if err != nil {
		slog.Error("Ingest failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, glob, databaseURL string, opts options) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrap(err, "match files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", glob)
	}
	sort.Strings(files)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "open pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "migrate")
	}

	st, err := newIngester(opts, postgres.NewSeeder(pool)).run(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("Ingest done",
		slog.Int("files", len(files)),
		slog.Int64("records", st.Records),
		slog.Int64("invalid", st.Invalid),
		slog.Int64("unique", st.Unique),
		slog.Int64("duplicates", st.Duplicates),
		slog.Int64("conflicts", st.Conflicts),
		slog.Int64("inserted", st.Inserted),
	)
	return nil
}
