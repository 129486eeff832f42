// Package cmd wires flags to the storage engine and FUSE adapter, and
// owns the mount/signal/unmount lifecycle. Structured after the
// teacher's cobra root command (one persistent command, flags bound
// through viper, validated in RunE before anything is opened), scaled
// down to dedupfs's much smaller flag surface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dedupfs/dedupfs/clock"
	"github.com/dedupfs/dedupfs/internal/blockstore"
	"github.com/dedupfs/dedupfs/internal/compress"
	"github.com/dedupfs/dedupfs/internal/gc"
	"github.com/dedupfs/dedupfs/internal/hashfunc"
	"github.com/dedupfs/dedupfs/internal/logger"
	"github.com/dedupfs/dedupfs/internal/metastore"
	"github.com/dedupfs/dedupfs/internal/pathcache"
	"github.com/dedupfs/dedupfs/internal/stats"
	"github.com/dedupfs/dedupfs/internal/vfs"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dedupfs <metastore> <datastore> <mountpoint>",
	Short: "A deduplicating, optionally compressing FUSE filesystem",
	Args:  cobra.ExactArgs(3),
	RunE:  runMount,
}

func init() {
	flags := rootCmd.Flags()
	flags.Int64("block-size", 65536, "size in bytes of the fixed blocks content is split into on write")
	flags.String("hash", hashfunc.Default, "digest function used to identify blocks (sha1, sha256)")
	flags.String("compress", compress.Default, "compression method applied to stored blocks (none, flate, zstd)")
	flags.Bool("nosync", false, "disable fsync-level durability on the metadata store (faster, less safe)")
	flags.Bool("no-transactions", false, "disable metadata transactions, committing every statement immediately")
	flags.Bool("nogc", false, "disable automatic garbage collection")
	flags.Int("gc-interval", 2500, "re-check every this many unlinks and file flushes whether garbage collection is due")
	flags.Duration("gc-min-interval", 60*time.Second, "minimum wall-clock time between garbage collection runs")
	flags.Bool("verify-writes", false, "read back and compare every newly stored block immediately after writing it")
	flags.Bool("print-stats", false, "print apparent vs. physical usage and exit without mounting")
	flags.Duration("cache-timeout", 0, "evict path cache entries idle longer than this (0 uses the built-in default)")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Bool("read-only", false, "mount read-only")

	viper.BindPFlags(flags)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file (overridden by flags)")
}

// Execute runs the root command, returning any error for main to report.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("cmd: reading config file %s: %w", cfgFile, err)
	}
	return nil
}

func runMount(c *cobra.Command, args []string) error {
	if err := initConfig(); err != nil {
		return err
	}
	logger.SetVerbose(viper.GetBool("verbose"))

	metaPath, dataPath, mountPoint := args[0], args[1], args[2]

	hashName := viper.GetString("hash")
	if !hashfunc.Valid(hashName) {
		return fmt.Errorf("cmd: unknown --hash %q", hashName)
	}
	compressName := viper.GetString("compress")
	if !compress.Valid(compressName) {
		return fmt.Errorf("cmd: unknown --compress %q", compressName)
	}

	requested := metastore.Options{
		BlockSize:         viper.GetInt64("block-size"),
		HashFunction:      hashName,
		CompressionMethod: compressName,
		Synchronous:       !viper.GetBool("nosync"),
		UseTransactions:   !viper.GetBool("no-transactions"),
	}

	meta, firstUse, err := metastore.Open(metaPath, requested)
	if err != nil {
		return fmt.Errorf("cmd: open metadata store: %w", err)
	}
	defer meta.Close()
	if firstUse {
		logger.Infof("initialized new metadata store at %s (block size %d, hash %s, compression %s)",
			metaPath, meta.Options.BlockSize, meta.Options.HashFunction, meta.Options.CompressionMethod)
	}

	blocks, err := blockstore.Open(dataPath)
	if err != nil {
		return fmt.Errorf("cmd: open block store: %w", err)
	}
	defer blocks.Close()

	if viper.GetBool("print-stats") {
		return stats.Print(os.Stdout, meta, blocks)
	}

	hashFn, err := hashfunc.Lookup(meta.Options.HashFunction)
	if err != nil {
		return fmt.Errorf("cmd: %w", err)
	}
	codec, err := compress.Lookup(meta.Options.CompressionMethod)
	if err != nil {
		return fmt.Errorf("cmd: %w", err)
	}

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())

	pcCfg := pathcache.Config{}
	if timeout := viper.GetDuration("cache-timeout"); timeout > 0 {
		pcCfg.Timeout = timeout
	}

	server := vfs.NewServer(vfs.Config{
		Meta:   meta,
		Blocks: blocks,
		Clock:  clock.RealClock{},

		HashFn: hashFn,
		Codec:  codec,

		BlockSize:    meta.Options.BlockSize,
		VerifyWrites: viper.GetBool("verify-writes"),
		ReadOnly:     viper.GetBool("read-only"),
		Uid:          uid,
		Gid:          gid,

		PathCache: pcCfg,
		GC: gc.Config{
			Disabled:    viper.GetBool("nogc"),
			Interval:    viper.GetInt("gc-interval"),
			MinInterval: viper.GetDuration("gc-min-interval"),
		},
	})

	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
	if err != nil {
		return fmt.Errorf("cmd: mount %s: %w", mountPoint, err)
	}

	registerSIGINTHandler(mfs.Dir())

	logger.Infof("dedupfs mounted at %s", mountPoint)
	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("cmd: serving file system: %w", err)
	}
	return nil
}

// registerSIGINTHandler arranges for an interrupt to unmount mountPoint.
// A failed unmount is logged and the handler keeps listening, since the
// kernel can report the mount busy for a moment after the last open
// handle closes, and the next SIGINT gives the operator another chance.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Info("received SIGINT, attempting to unmount...")
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("failed to unmount in response to SIGINT: %v", err)
				continue
			}
			return
		}
	}()
}
