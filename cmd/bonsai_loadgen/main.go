package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/bonsaidb/config"
	"github.com/sushant-115/bonsaidb/core/indexmanager"
	"github.com/sushant-115/bonsaidb/core/serialization"
	"github.com/sushant-115/bonsaidb/pkg/logger"
	"github.com/sushant-115/bonsaidb/pkg/telemetry"
)

type loadOptions struct {
	keys    int
	workers int
	cluster int32
}

type result struct {
	ops      int64
	failures int64
	elapsed  time.Duration
}

func (r result) String() string {
	rate := float64(r.ops) / r.elapsed.Seconds()
	return fmt.Sprintf("%d ops, %d failures in %v (%.0f ops/s)", r.ops, r.failures, r.elapsed.Round(time.Millisecond), rate)
}

func write(ctx context.Context, bag *indexmanager.RidBag, opts loadOptions, log *zap.Logger) result {
	var failures atomic.Int64
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, opts.workers)
	start := time.Now()
	for i := 0; i < opts.keys; i++ {
		sem <- struct{}{}
		rid := serialization.RID{ClusterID: opts.cluster, ClusterPosition: int64(i)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := bag.Put(ctx, rid, int32(i%1000)); err != nil {
				failures.Add(1)
				log.Warn("Write failed", zap.Stringer("rid", rid), zap.Error(err))
			}
		}()
	}
	wg.Wait()
	return result{ops: int64(opts.keys), failures: failures.Load(), elapsed: time.Since(start)}
}

func read(ctx context.Context, bag *indexmanager.RidBag, opts loadOptions, log *zap.Logger) result {
	var failures atomic.Int64
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, opts.workers)
	start := time.Now()
	for i := 0; i < opts.keys; i++ {
		sem <- struct{}{}
		rid := serialization.RID{ClusterID: opts.cluster, ClusterPosition: int64(i)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			count, found, err := bag.Get(ctx, rid)
			switch {
			case err != nil:
				log.Warn("Read failed", zap.Stringer("rid", rid), zap.Error(err))
			case !found:
				log.Warn("Key not found", zap.Stringer("rid", rid))
			case count != int32(i%1000):
				log.Warn("Count mismatch", zap.Stringer("rid", rid), zap.Int32("count", count))
			default:
				return
			}
			failures.Add(1)
		}()
	}
	wg.Wait()
	return result{ops: int64(opts.keys), failures: failures.Load(), elapsed: time.Since(start)}
}

func run() error {
	dir := flag.String("dir", filepath.Join(os.TempDir(), "bonsai_loadgen"), "directory for the data file and log")
	keys := flag.Int("keys", 4000, "number of record ids to write and read back")
	workers := flag.Int("workers", 16, "concurrent operations")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address while running")
	flag.Parse()

	if err := os.RemoveAll(*dir); err != nil {
		return err
	}
	cfg := config.Default()
	cfg.Storage.DataFile = filepath.Join(*dir, "loadgen.db")
	// One bucket per page, as large as 16-bit positions allow.
	cfg.Storage.PageSize = 64 * 1024
	cfg.Storage.BucketSize = 64 * 1024
	cfg.WAL.Dir = filepath.Join(*dir, "wal")
	cfg.Logger.Level = "warn"
	cfg.Telemetry.Enabled = *metricsAddr != ""
	cfg.Telemetry.ServiceName = "bonsai_loadgen"
	cfg.Telemetry.PrometheusAddr = *metricsAddr

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()
	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer shutdown(ctx)

	m, err := indexmanager.NewBonsaiIndexManager(ctx, cfg, log, tel)
	if err != nil {
		return err
	}
	defer m.Close()
	bag, err := indexmanager.OpenRidBag(ctx, m)
	if err != nil {
		return err
	}

	opts := loadOptions{keys: *keys, workers: *workers, cluster: 12}
	fmt.Println("write:", write(ctx, bag, opts, log))
	fmt.Println("read: ", read(ctx, bag, opts, log))

	start := time.Now()
	if err := m.Flush(ctx); err != nil {
		return err
	}
	fmt.Println("flush:", time.Since(start).Round(time.Millisecond))
	st, err := bag.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("bucket: %d entries, %d bytes free\n", st.Entries, st.FreeSpace)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
