package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	progressEvery = 1_000_000
	maxLineBytes  = 64 << 10
	maxLoggedBad  = 20
)

// importer persists a batch of coupons and reports how many were new.
type importer interface {
	ImportCoupons(ctx context.Context, defs []coupon.Definition) (int64, error)
}

type options struct {
	// Expected is the per-file record estimate used to size bloom filters.
	Expected  uint
	FPR       float64
	BatchSize int
}

// stats summarises an ingest run.
type stats struct {
	Records    int64
	Invalid    int64
	Unique     int64
	Duplicates int64
	Conflicts  int64
	Inserted   int64
}

// ingester loads coupon records from several gzip NDJSON files. A code that
// appears in more than one file is imported once when every copy carries the
// same terms and skipped otherwise. Per-file bloom filters keep the exact
// cross-file comparison limited to codes that may repeat.
type ingester struct {
	opts  options
	store importer

	invalid atomic.Int64
	records atomic.Int64
	logged  atomic.Int64
}

func newIngester(opts options, store importer) *ingester {
	if opts.Expected == 0 {
		opts.Expected = 1_000_000
	}
	if opts.FPR <= 0 {
		opts.FPR = 0.001
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	return &ingester{opts: opts, store: store}
}

func (in *ingester) run(ctx context.Context, files []string) (*stats, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := in.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: importing unique codes")

	st := &stats{}
	candidates, err := in.importUnique(ctx, files, filters, st)
	if err != nil {
		return nil, errors.Wrap(err, "import unique codes")
	}

	if err := in.importCandidates(ctx, candidates, st); err != nil {
		return nil, errors.Wrap(err, "import repeated codes")
	}

	st.Records = in.records.Load()
	st.Invalid = in.invalid.Load()
	return st, nil
}

// buildFilters creates one bloom filter per file, concurrently.
func (in *ingester) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(in.opts.Expected, in.opts.FPR)
			var count uint64
			err := in.stream(ctx, path, false, func(d *coupon.Definition) {
				filter.AddString(key(d.Code))
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// candidate is one copy of a possibly repeated code.
type candidate struct {
	file int
	def  coupon.Definition
}

// importUnique re-streams every file. Codes absent from every other file's
// filter are imported in batches; the rest are returned for exact
// comparison.
func (in *ingester) importUnique(ctx context.Context, files []string, filters []*bloom.BloomFilter, st *stats) (map[string][]candidate, error) {
	var (
		mu         sync.Mutex
		candidates = make(map[string][]candidate)
	)
	unique := make(chan coupon.Definition, in.opts.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	producers, pctx := errgroup.WithContext(gctx)
	for i, path := range files {
		producers.Go(func() error {
			err := in.stream(pctx, path, true, func(d *coupon.Definition) {
				k := key(d.Code)
				for j, f := range filters {
					if j != i && f.TestString(k) {
						mu.Lock()
						candidates[k] = append(candidates[k], candidate{file: i, def: *d})
						mu.Unlock()
						return
					}
				}
				select {
				case unique <- *d:
				case <-pctx.Done():
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := producers.Wait()
		close(unique)
		return err
	})
	g.Go(func() error {
		batch := make([]coupon.Definition, 0, in.opts.BatchSize)
		for d := range unique {
			batch = append(batch, d)
			st.Unique++
			if len(batch) == cap(batch) {
				if err := in.flush(gctx, batch, st); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		return in.flush(gctx, batch, st)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// importCandidates resolves codes seen in several files. Copies with equal
// terms collapse into one import; differing terms are a conflict and the
// code is skipped entirely.
func (in *ingester) importCandidates(ctx context.Context, candidates map[string][]candidate, st *stats) error {
	codes := make([]string, 0, len(candidates))
	for k := range candidates {
		codes = append(codes, k)
	}
	sort.Strings(codes)

	batch := make([]coupon.Definition, 0, in.opts.BatchSize)
	for _, k := range codes {
		copies := candidates[k]
		sort.Slice(copies, func(a, b int) bool { return copies[a].file < copies[b].file })

		first := copies[0]
		conflict := false
		for _, c := range copies[1:] {
			if !coupon.SameTerms(&first.def, &c.def) {
				conflict = true
				break
			}
		}
		if conflict {
			st.Conflicts++
			files := make([]int, len(copies))
			for i, c := range copies {
				files[i] = c.file + 1
			}
			slog.Warn("conflicting coupon terms, skipping code",
				slog.String("code", first.def.Code),
				slog.Any("files", files),
			)
			continue
		}

		st.Duplicates += int64(len(copies) - 1)
		batch = append(batch, first.def)
		if len(batch) == cap(batch) {
			if err := in.flush(ctx, batch, st); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return in.flush(ctx, batch, st)
}

func (in *ingester) flush(ctx context.Context, batch []coupon.Definition, st *stats) error {
	if len(batch) == 0 {
		return nil
	}
	n, err := in.store.ImportCoupons(ctx, batch)
	if err != nil {
		return err
	}
	st.Inserted += n
	slog.Info("batch imported", slog.Int("records", len(batch)), slog.Int64("inserted", n))
	return nil
}

// stream opens a gzip-compressed NDJSON file and calls fn for each valid
// record. With count set, records are tallied and the first few invalid
// ones are logged.
func (in *ingester) stream(ctx context.Context, path string, count bool, fn func(d *coupon.Definition)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if count {
			in.records.Add(1)
		}

		var r coupon.Record
		err := json.Unmarshal(raw, &r)
		var d coupon.Definition
		if err == nil {
			d, err = r.Definition()
		}
		if err != nil {
			if count {
				in.reject(path, line, err)
			}
			continue
		}
		fn(&d)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func (in *ingester) reject(path string, line int, err error) {
	in.invalid.Add(1)
	if in.logged.Add(1) <= maxLoggedBad {
		slog.Warn("skipping invalid record",
			slog.String("file", path),
			slog.Int("line", line),
			slog.String("error", err.Error()),
		)
	}
}

func key(code string) string {
	return strings.ToUpper(code)
}
