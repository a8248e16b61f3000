// Command zerofs mounts a single object-store bucket as a local FUSE
// filesystem: files are staged through a bounded disk cache and
// uploaded in the background after a debounce delay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/jacobsa/daemonize"
	"github.com/rs/zerolog"

	"github.com/objectfs/zerofs/internal/cache"
	"github.com/objectfs/zerofs/internal/config"
	"github.com/objectfs/zerofs/internal/fusefs"
	"github.com/objectfs/zerofs/internal/metrics"
	"github.com/objectfs/zerofs/internal/objectstore"
	"github.com/objectfs/zerofs/internal/taskqueue"
	"github.com/objectfs/zerofs/internal/tree"
	"github.com/objectfs/zerofs/pkg/retry"
)

// backgroundChildEnv marks a re-exec'd process as the already-daemonized
// child, distinguishing it from a fresh invocation of --background.
const backgroundChildEnv = "ZEROFS_BACKGROUND_CHILD"

// uploadWorkers is the task queue's fixed worker-pool size. Not exposed
// on the command line: the spec's CLI surface is five flags plus the
// mountpoint, and a single-mount, single-bucket tool has no need to
// tune this per invocation.
const uploadWorkers = 4

// uploadDelay is the debounce window between a write and the upload it
// schedules.
const uploadDelay = 2 * time.Second

const statfsBlockSize = 4096

// statfsTotalBytes is the fixed capacity statfs reports, independent of
// actual cache occupancy, matching an object store's effectively
// unbounded namespace.
const statfsTotalBytes = 1 << 40 // 1 TiB

func main() {
	log := newLogger()

	cfg := config.Parse()
	if cfg.Verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	isChild := os.Getenv(backgroundChildEnv) != ""
	if cfg.Background && !isChild {
		daemonizeAndWait(cfg, log)
		return
	}

	server, queue, err := mount(cfg, log)
	if isChild {
		// Tell the waiting parent whether the mount succeeded now, not
		// after server.Wait() returns: that only happens on unmount,
		// long after the parent needs to know whether to exit 0.
		if sigErr := daemonize.SignalOutcome(err); sigErr != nil {
			log.Error().Err(sigErr).Msg("failed to signal outcome to parent process")
		}
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to mount")
	}

	setupSignalHandler(server, queue, log)
	log.Info().
		Str("bucket", cfg.Bucket).
		Str("mountpoint", cfg.Mountpoint).
		Str("cacheDir", cfg.CacheDir).
		Msg("serving filesystem")
	server.Wait()
}

// daemonizeAndWait re-execs the current binary with the background marker
// set, blocking until the child signals that it has mounted successfully
// or failed, then exits with a matching status.
func daemonizeAndWait(cfg *config.Config, log zerolog.Logger) {
	path, err := os.Executable()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve executable path for daemonization")
	}

	env := append(os.Environ(), fmt.Sprintf("%s=true", backgroundChildEnv))
	if err := daemonize.Run(path, os.Args[1:], env, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("failed to daemonize")
	}
	log.Info().Str("mountpoint", cfg.Mountpoint).Msg("mounted in background")
}

// mount constructs every component and performs the FUSE mount, returning
// once the mount has either succeeded or failed — it does not block on
// serving, so the daemonizing parent can be signaled promptly.
func mount(cfg *config.Config, log zerolog.Logger) (*fuse.Server, *taskqueue.Queue, error) {
	ctx := context.Background()

	store, err := objectstore.New(ctx, cfg.Bucket, objectstore.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("constructing object-store client: %w", err)
	}

	exists, err := store.BucketExists(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("bucket %q does not exist or is not reachable", cfg.Bucket)
	}

	diskCache, err := cache.New(cfg.CacheDir, cfg.CacheSizeBytes(), log.With().Str("component", "cache").Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("opening disk cache: %w", err)
	}

	queue, err := taskqueue.New(uploadWorkers, retry.DefaultConfig(), log.With().Str("component", "taskqueue").Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("constructing task queue: %w", err)
	}
	if err := queue.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting task queue: %w", err)
	}

	listing, err := store.ListFiles(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing bucket %q: %w", cfg.Bucket, err)
	}
	t := tree.Build(toObjectListings(listing))

	collector := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, collector, log)
	}

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())
	zfs := fusefs.New(t, diskCache, queue, store, collector, uploadDelay,
		fusefs.Statfs{BlockSize: statfsBlockSize, TotalBytes: statfsTotalBytes},
		uid, gid, log)

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:        "zerofs",
			Name:          "zerofs",
			DisableXAttrs: false,
		},
		EntryTimeout:    durationPtr(time.Second),
		AttrTimeout:     durationPtr(time.Second),
		NullPermissions: true,
	}

	server, err := fs.Mount(cfg.Mountpoint, zfs.Root(), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mounting at %q: %w", cfg.Mountpoint, err)
	}
	return server, queue, nil
}

// toObjectListings adapts the object-store client's listing shape to the
// tree package's, which additionally distinguishes directory-marker
// entries. The object store has no notion of those, so every entry is a
// plain file; the tree synthesizes directories from path prefixes.
func toObjectListings(files []objectstore.FileListing) []tree.ObjectListing {
	out := make([]tree.ObjectListing, len(files))
	for i, f := range files {
		out[i] = tree.ObjectListing{
			FileID:          f.FileID,
			FileName:        f.FileName,
			ContentLength:   f.ContentLength,
			UploadTimestamp: f.UploadTimestamp,
		}
	}
	return out
}

// serveMetrics starts a debug HTTP server exposing collector's
// Prometheus registry at /metrics, in the background. A handler error
// only logs: the mount itself does not depend on metrics being served.
func serveMetrics(addr string, collector *metrics.Collector, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
}

func durationPtr(d time.Duration) *time.Duration { return &d }

// newLogger builds the console logger used until --verbose is parsed,
// matching OneMount's bootstrap-then-reconfigure pattern.
func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

// setupSignalHandler stops the task queue (finishing in-flight uploads)
// and unmounts on SIGINT/SIGTERM, retrying the unmount with backoff
// since a busy mountpoint can reject it transiently.
func setupSignalHandler(server *fuse.Server, queue *taskqueue.Queue, log zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", strings.ToUpper(sig.String())).Msg("signal received, unmounting")

		if err := queue.Stop(true); err != nil {
			log.Warn().Err(err).Msg("failed to stop task queue cleanly")
		}

		maxRetries := 3
		delay := 500 * time.Millisecond
		var err error
		for i := 0; i < maxRetries; i++ {
			if err = server.Unmount(); err == nil {
				break
			}
			if i < maxRetries-1 {
				log.Warn().Err(err).Int("retry", i+1).Msg("unmount failed, retrying")
				time.Sleep(delay)
				delay *= 2
			}
		}
		if err != nil {
			log.Fatal().Err(err).Msg("failed to unmount after retries; unmount manually")
		}
		os.Exit(0)
	}()
}
