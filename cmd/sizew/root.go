package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/riadafridishibly/sizew/internal/cachefile"
	"github.com/riadafridishibly/sizew/internal/config"
	"github.com/riadafridishibly/sizew/internal/engine"
	"github.com/riadafridishibly/sizew/internal/sqlitecache"
	"github.com/riadafridishibly/sizew/internal/store"
)

var (
	flagRecursive   bool
	flagBypassCache bool
	flagRecalculate bool
	flagHuman       bool
	flagBackend     string
	flagCachePath   string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "sizew [path]",
	Short: "Cached recursive directory size measurement",
	Long: `sizew measures how many bytes live under a directory, consulting and
updating a persistent cache so repeat runs can skip subtrees that provably
have not changed.

With no path argument, sizew measures the current directory.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMeasure,
}

func init() {
	rootCmd.Flags().BoolVarP(&flagRecursive, "recursive", "r", true, "descend into subdirectories")
	rootCmd.Flags().BoolVar(&flagBypassCache, "bypass-cache", false, "ignore and do not update the cache for this run")
	rootCmd.Flags().BoolVar(&flagRecalculate, "recalculate", false, "force a full recompute and refresh the cache")
	rootCmd.Flags().BoolVar(&flagHuman, "human", false, "print the total in human-readable units")
	rootCmd.Flags().StringVar(&flagBackend, "cache-backend", "", "cache backend: file or sqlite (default: config/env)")
	rootCmd.Flags().StringVar(&flagCachePath, "cache-path", "", "override the cache file/database location")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log decisions at debug level")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMeasure(cmd *cobra.Command, args []string) error {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	path := "."
	if len(args) == 1 {
		path = args[0]
	}

	cfg := config.Load()
	if flagBackend != "" {
		cfg.CacheBackend = config.Backend(flagBackend)
	}
	if flagCachePath != "" {
		cfg.CachePath = flagCachePath
	}

	s, closer := openStore(cfg)
	if closer != nil {
		defer closer()
	}

	eng := engine.New(s)
	eng.LWTTolerance = cfg.LWTTolerance

	total := eng.Measure(cmd.Context(), path, engine.Options{
		Recursive:   flagRecursive,
		BypassCache: flagBypassCache,
		Recalculate: flagRecalculate,
	})

	if flagHuman {
		fmt.Println(humanize.Bytes(total))
	} else {
		fmt.Println(total)
	}
	return nil
}

// openStore resolves cfg into a concrete store.Store and, for backends that
// hold an open handle, a closer to release it once the command finishes.
func openStore(cfg config.Config) (store.Store, func()) {
	switch cfg.CacheBackend {
	case config.BackendSQLite:
		path := cfg.CachePath
		if path == "" {
			path = sqlitecache.DefaultPath()
		}
		s := &sqlitecache.Store{Path: path}
		return s, func() { s.Close() }
	default:
		path := cfg.CachePath
		if path == "" {
			path = cachefile.DefaultPath()
		}
		return &cachefile.FileStore{Path: path}, nil
	}
}
