// Package config parses and validates zerofs's command-line surface:
// a mountpoint, the bucket to serve, and the cache's location and size.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/objectfs/zerofs/pkg/zferrors"
)

// Config is zerofs's complete command-line configuration, validated and
// ready to wire into the object-store client, cache, and task queue.
type Config struct {
	Mountpoint  string
	Bucket      string
	CacheDir    string
	CacheSizeMB int64
	Background  bool
	Verbose     bool
	MetricsAddr string
}

// defaultCacheDir returns ~/.zerofs, falling back to a relative path if
// the home directory cannot be resolved.
func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zerofs"
	}
	return filepath.Join(home, ".zerofs")
}

func usage() {
	fmt.Fprintf(os.Stderr, `zerofs - a FUSE filesystem backed by object storage.

Mounts a single bucket as a local directory tree. Files are cached on
local disk and uploaded to the bucket after a short debounce delay.

Usage: zerofs [options] <mountpoint>

Valid options:
`)
	flag.PrintDefaults()
}

// Parse reads os.Args, applies defaults, and validates the result. It
// calls os.Exit(2) on a usage error or missing mountpoint, matching the
// CLI convention the rest of the corpus follows.
func Parse() *Config {
	bucket := flag.StringP("bucket", "b", "", "Name of the bucket to mount (required).")
	cacheDir := flag.StringP("cache-dir", "c", defaultCacheDir(),
		"Directory used to stage file bodies on local disk. Created if missing.")
	cacheSizeMB := flag.Int64P("cache-size-mb", "s", 5000,
		"Maximum size in megabytes of the local disk cache.")
	background := flag.BoolP("background", "B", false, "Daemonize after mounting.")
	verbose := flag.BoolP("verbose", "v", false, "Enable debug-level logging.")
	metricsAddr := flag.String("metrics-addr", "",
		"Address to serve Prometheus metrics on (e.g. 127.0.0.1:9100). Disabled if empty.")
	help := flag.BoolP("help", "h", false, "Display this help message.")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nNo mountpoint provided, exiting.")
		os.Exit(2)
	}

	cfg := &Config{
		Mountpoint:  flag.Arg(0),
		Bucket:      *bucket,
		CacheDir:    *cacheDir,
		CacheSizeMB: *cacheSizeMB,
		Background:  *background,
		Verbose:     *verbose,
		MetricsAddr: *metricsAddr,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// CacheSizeBytes converts CacheSizeMB to the byte quota the cache package
// expects.
func (c *Config) CacheSizeBytes() int64 {
	return c.CacheSizeMB * 1024 * 1024
}

// Validate fails fast on the configuration errors that must abort
// startup before anything is mounted: a missing bucket name, a cache
// directory that does not exist (and cannot be created), or a
// non-positive cache size. Bucket *existence* is checked later, once
// the object-store client is constructed, since that requires a network
// round trip.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return zferrors.Config("--bucket is required")
	}
	if c.CacheSizeMB <= 0 {
		return zferrors.Config("--cache-size-mb must be positive")
	}
	if err := os.MkdirAll(c.CacheDir, 0o700); err != nil {
		return zferrors.Configf(err, "cache directory %q", c.CacheDir)
	}
	info, err := os.Stat(c.Mountpoint)
	if err != nil || !info.IsDir() {
		return zferrors.Config(fmt.Sprintf("mountpoint %q does not exist or is not a directory", c.Mountpoint))
	}
	entries, err := os.ReadDir(c.Mountpoint)
	if err != nil {
		return zferrors.Configf(err, "reading mountpoint %q", c.Mountpoint)
	}
	if len(entries) > 0 {
		return zferrors.Config(fmt.Sprintf("mountpoint %q must be empty", c.Mountpoint))
	}
	return nil
}
