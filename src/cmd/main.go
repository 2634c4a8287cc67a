package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/RelDB/src/bufferpool"
	"github.com/Blackdeer1524/RelDB/src/config"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/disk"
	"github.com/Blackdeer1524/RelDB/src/storage/index/hash"
	"github.com/Blackdeer1524/RelDB/src/txns"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	root := &cobra.Command{
		Use:   "reldb",
		Short: "RelDB storage core tooling",
	}
	root.AddCommand(demoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func demoCmd() *cobra.Command {
	var keys uint64
	var workers int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Exercise the buffer pool, hash index and lock manager end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			return runDemo(cfg, logger, keys, workers)
		},
	}

	cmd.Flags().Uint64Var(&keys, "keys", 10_000, "number of keys to insert")
	cmd.Flags().IntVar(&workers, "workers", 8, "concurrent insert workers")
	return cmd
}

func runDemo(cfg config.Config, logger *zap.Logger, keys uint64, workers int) error {
	diskMgr, err := disk.New(afero.NewOsFs(), cfg.PageFilePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open page file: %w", err)
	}
	defer func() { _ = diskMgr.Close() }()

	var pool hash.BufferPool
	if cfg.PoolInstances > 1 {
		pool = bufferpool.NewParallel(cfg.PoolInstances, cfg.PoolSize, diskMgr, logger)
	} else {
		pool = bufferpool.New(cfg.PoolSize, bufferpool.NewLRUReplacer(), diskMgr, logger)
	}

	index := hash.New(
		pool,
		hash.Uint64Codec{},
		hash.Uint64Comparator,
		nil,
		logger,
	)

	logger.Info("inserting keys",
		zap.Uint64("count", keys),
		zap.Int("workers", workers))

	g := errgroup.Group{}
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		worker := uint64(w)
		g.Go(func() error {
			for k := worker; k < keys; k += uint64(workers) {
				rid := common.RID{PageID: common.PageID(int32(k)), SlotNum: uint32(k)}
				if !index.Insert(k, rid) {
					return fmt.Errorf("failed to insert key %d", k)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	index.VerifyIntegrity()
	logger.Info("index grown", zap.Uint32("globalDepth", index.GlobalDepth()))

	var result []common.RID
	if !index.GetValue(keys/2, &result) {
		return fmt.Errorf("lookup of key %d found nothing", keys/2)
	}
	logger.Info("lookup ok", zap.Uint64("key", keys/2), zap.Int("matches", len(result)))

	if err := lockDemo(logger); err != nil {
		return err
	}

	switch p := pool.(type) {
	case *bufferpool.Manager:
		p.FlushAllPages()
	case *bufferpool.ParallelManager:
		p.FlushAllPages()
	}
	logger.Info("flushed all pages")
	return nil
}

// lockDemo stages the classic wound-wait interaction: the younger
// transaction holds the row, the older one wounds it and wins.
func lockDemo(logger *zap.Logger) error {
	lockMgr := txns.NewLockManager(logger)
	txnMgr := txns.NewManager(lockMgr, logger)

	older := txnMgr.Begin(txns.RepeatableRead)
	younger := txnMgr.Begin(txns.RepeatableRead)
	rid := common.RID{PageID: 1, SlotNum: 7}

	if err := lockMgr.LockExclusive(younger, rid); err != nil {
		return fmt.Errorf("younger txn failed to lock: %w", err)
	}
	if err := lockMgr.LockExclusive(older, rid); err != nil {
		return fmt.Errorf("older txn failed to lock: %w", err)
	}

	logger.Info("wound-wait resolved the conflict",
		zap.Uint64("winner", uint64(older.ID())),
		zap.Stringer("woundedState", younger.State()))

	txnMgr.Abort(younger)
	txnMgr.Commit(older)
	return nil
}
