// Command sharebox-mount serves a backing content-addressed, versioned
// working tree as an ordinary read/write FUSE mount (§6 Mount CLI).
//
// Usage: sharebox-mount <mountpoint> [-o option]...
//
// Recognised -o options: gitdir=<path> (required), numversions=<int>,
// notifycmd=<template>, getall, foreground, sync=<seconds>. The option
// vocabulary and its -o repeated-flag parsing follow the same mount(8)
// helper convention GoogleCloudPlatform-gcsfuse's gcsfuse_mount_helper
// uses for translating mount-style options into flags.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/pflag"

	"github.com/sharebox/sharebox/internal/circuit"
	"github.com/sharebox/sharebox/internal/config"
	"github.com/sharebox/sharebox/internal/control"
	"github.com/sharebox/sharebox/internal/mounttab"
	"github.com/sharebox/sharebox/internal/notify"
	"github.com/sharebox/sharebox/internal/objectstore"
	syncengine "github.com/sharebox/sharebox/internal/sync"
	"github.com/sharebox/sharebox/internal/telemetry"
	"github.com/sharebox/sharebox/internal/vfs"
	"github.com/sharebox/sharebox/pkg/health"
)

// mountOption is a single `name` or `name=value` -o argument, following the
// Option/OptionSlice split gcsfuse_mount_helper uses to parse repeated -o
// flags.
type mountOption struct {
	name  string
	value string
}

type optionSlice []mountOption

func (s *optionSlice) String() string { return fmt.Sprint(*s) }

func (s *optionSlice) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		opt := mountOption{}
		if i := strings.IndexByte(part, '='); i != -1 {
			opt.name, opt.value = part[:i], part[i+1:]
		} else {
			opt.name = part
		}
		*s = append(*s, opt)
	}
	return nil
}

func (s *optionSlice) Type() string { return "option" }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sharebox-mount:", err)
		os.Exit(1)
	}
}

func run() error {
	var opts optionSlice
	pflag.Var(&opts, "o", "mount option, may be repeated (gitdir=, numversions=, notifycmd=, getall, foreground, sync=)")
	pflag.Parse()

	args := pflag.Args()
	if len(args) != 1 {
		return fmt.Errorf("usage: sharebox-mount <mountpoint> [-o option]...")
	}
	mountPoint := args[0]

	cfg := config.NewDefault()
	cfg.Mount.MountPoint = mountPoint
	if err := applyMountOptions(cfg, opts); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("misconfiguration: %w", err)
	}

	if err := validateMountPoint(mountPoint); err != nil {
		return err
	}

	logCfg := telemetry.DefaultConfig()
	level, err := telemetry.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		return err
	}
	logCfg.Level = level
	if cfg.Global.LogFile != "" {
		logCfg.Rotation = &telemetry.RotationConfig{
			Filename:   cfg.Global.LogFile,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		}
	}
	logger := telemetry.New(logCfg)
	defer logger.Close()

	metrics := telemetry.NewMetrics(&telemetry.MetricsConfig{Enabled: true, Port: cfg.Global.MetricsPort, Path: "/metrics", Namespace: "sharebox"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := metrics.Start(ctx); err != nil {
		logger.Warn("metrics server failed to start", map[string]interface{}{"error": err.Error()})
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	go serveHealthz(ctx, healthTracker, cfg.Global.HealthPort, logger)

	storeOpts := []objectstore.Option{
		objectstore.WithMetrics(metrics),
		objectstore.WithLogger(logger),
		objectstore.WithHealthTracker(healthTracker),
	}
	if cfg.Network.CircuitBreaker.Enabled {
		cb := circuit.NewCircuitBreaker("store", circuit.Config{
			ReadyToTrip: func(counts circuit.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Network.CircuitBreaker.FailureThreshold
			},
			Timeout: cfg.Network.CircuitBreaker.Timeout,
		})
		storeOpts = append(storeOpts, objectstore.WithCircuitBreaker(cb))
	}
	store := objectstore.NewCommandDriver(cfg.Mount.BackingDir, storeOpts...)

	hostID, err := os.Hostname()
	if err != nil {
		hostID = "sharebox"
	}
	if err := store.Init(ctx, hostID); err != nil {
		return fmt.Errorf("backing store initialisation failed: %w", err)
	}

	var mu sync.Mutex
	var core *vfs.Core
	notifier := notify.New(cfg.Mount.NotifyCmd, logger)
	engine := syncengine.New(store, notifier, &mu,
		syncengine.WithGetAll(cfg.Mount.GetAll),
		syncengine.WithLogger(logger),
		syncengine.WithMetrics(metrics),
		syncengine.WithOnMergeSuccess(func() { core.Classifier.Invalidate() }),
	)

	ch := control.New(engine, store, logger)
	core = vfs.NewCore(cfg.Mount.BackingDir, store, ch, logger, metrics, &mu)

	fuseOpts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:      "sharebox",
			Name:        "sharebox",
			DirectMount: true,
			Debug:       cfg.Global.LogLevel == "DEBUG",
		},
	}

	server, err := fs.Mount(mountPoint, core.Root(), fuseOpts)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	logger.Info("mounted", map[string]interface{}{"mountpoint": mountPoint, "backing_dir": cfg.Mount.BackingDir})

	go engine.RunPeriodic(ctx, cfg.Mount.SyncInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, unmounting", nil)
		_ = server.Unmount()
	}()

	if !cfg.Mount.Foreground {
		logger.Info("running in background", nil)
	}

	server.Wait()
	return nil
}

func applyMountOptions(cfg *config.Configuration, opts optionSlice) error {
	for _, opt := range opts {
		switch opt.name {
		case "gitdir":
			cfg.Mount.BackingDir = opt.value
		case "numversions":
			n, err := strconv.Atoi(opt.value)
			if err != nil {
				return fmt.Errorf("invalid numversions value %q: %w", opt.value, err)
			}
			cfg.Mount.NumVersions = n
		case "notifycmd":
			cfg.Mount.NotifyCmd = opt.value
		case "getall":
			cfg.Mount.GetAll = true
		case "foreground":
			cfg.Mount.Foreground = true
		case "sync":
			secs, err := strconv.Atoi(opt.value)
			if err != nil {
				return fmt.Errorf("invalid sync value %q: %w", opt.value, err)
			}
			cfg.Mount.SyncInterval = time.Duration(secs) * time.Second
		default:
			return fmt.Errorf("unrecognised mount option: %q", opt.name)
		}
	}
	return nil
}

// serveHealthz serves the tracker's status at /healthz on the given port,
// returning 503 once any component has degraded below StateHealthy. Runs
// until ctx is cancelled; a bind failure is logged and swallowed, the same
// way a metrics server failure does not abort the mount.
func serveHealthz(ctx context.Context, tracker *health.Tracker, port int, logger *telemetry.Logger) {
	if port == 0 {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if tracker.Overall() != health.StateHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		tracker.WriteStatus(w)
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Warn("healthz server failed to start", map[string]interface{}{"error": err.Error()})
		return
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Warn("healthz server exited", map[string]interface{}{"error": err.Error()})
	}
}

func validateMountPoint(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("mount point %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point %s is not a directory", path)
	}
	mounted, err := mounttab.IsMountPoint(filepath.Clean(path))
	if err == nil && mounted {
		return fmt.Errorf("mount point %s is already mounted", path)
	}
	return nil
}
