// Command gimbal keeps the largest-priority face centred by driving a
// two-axis servo gimbal from perception detections.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/econokeith/robocam/internal/config"
	applog "github.com/econokeith/robocam/internal/log"
	"github.com/econokeith/robocam/pkg/ingest"
	"github.com/econokeith/robocam/pkg/journal"
	"github.com/econokeith/robocam/pkg/servo"
	"github.com/econokeith/robocam/pkg/tracking"
	"github.com/econokeith/robocam/pkg/trackstate"
	"github.com/econokeith/robocam/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (or set GIMBAL_CONFIG)")
	dryRun := flag.Bool("dry-run", false, "Record servo commands in memory instead of opening the serial port")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("GIMBAL_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	if !cfg.EnableTracking {
		fmt.Println("Tracking disabled, exiting")
		return
	}

	if *debug {
		cfg.Log.Level = "debug"
	}
	applog.InitWithOptions(applog.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	fmt.Println("🎥 Gimbal face tracker")
	fmt.Printf("   Device: %s (dry run: %v)\n", cfg.Device, *dryRun)
	fmt.Printf("   Ingest: %s\n", cfg.Ingest.Addr)
	if cfg.Web.Addr != "" {
		fmt.Printf("   Dashboard: http://%s\n", cfg.Web.Addr)
	}
	fmt.Println("   Type q + Enter to quit")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go watchQuit(os.Stdin, cancel)

	err = run(ctx, cfg, *dryRun, applog.L())
	if err != nil {
		applog.Error("gimbal stopped", "error", err)
	}
	applog.Close()
	if err != nil {
		os.Exit(1)
	}
	fmt.Println("👋 Goodbye!")
}

// watchQuit calls quit when a line reading "q" arrives on r. EOF leaves the
// process running so it can be started without a terminal.
func watchQuit(r io.Reader, quit func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.EqualFold(strings.TrimSpace(sc.Text()), "q") {
			quit()
			return
		}
	}
}

// run wires the store, servers, observers and control loop, and blocks until
// the loop returns. Server failures cancel the loop and are reported.
func run(ctx context.Context, cfg *config.Config, dryRun bool, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := trackstate.NewStore(cfg.Ingest.Capacity)
	defer store.Close()

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		srvErr error
	)
	serve := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errMu.Lock()
				if srvErr == nil {
					srvErr = fmt.Errorf("%s: %w", name, err)
				}
				errMu.Unlock()
				cancel()
			}
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	in := ingest.NewServer(store, ingest.WithLogger(logger.With("component", "ingest")))
	serve("ingest", func(ctx context.Context) error { return in.Serve(ctx, cfg.Ingest.Addr) })

	opts := []tracking.Option{tracking.WithLogger(logger.With("component", "tracking"))}

	var dash *web.Server
	if cfg.Web.Addr != "" {
		dash = web.NewServer(cfg.Web.Addr, logger.With("component", "web"))
		dash.SetIngest(in)
		opts = append(opts, tracking.WithObserver(dash))
		serve("web", dash.Run)
	}

	if cfg.Journal.Path != "" {
		j, err := openJournal(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Warn("journal close failed", "error", err)
			}
		}()
		opts = append(opts, tracking.WithObserver(j))
	}

	connect, rec := connector(cfg, dryRun, logger)
	loop, err := tracking.NewLoop(cfg.TrackingConfig(), connect, trackstate.NewReader(store), opts...)
	if err != nil {
		return err
	}
	if dash != nil {
		dash.SetLoop(loop)
	}

	err = loop.Run(ctx)
	cancel()
	wg.Wait()

	st := loop.Stats()
	logger.Info("tracking finished",
		"cycles", st.Cycles,
		"acted", st.Acted,
		"errors", st.Errors)
	if rec != nil {
		logger.Info("dry run", "commands", len(rec.Commands()), "final", rec.Angles())
	}

	if err != nil {
		return err
	}
	errMu.Lock()
	defer errMu.Unlock()
	return srvErr
}

// connector returns the actuator factory. In dry-run mode the returned
// recorder is the actuator the loop will drive.
func connector(cfg *config.Config, dryRun bool, logger *slog.Logger) (tracking.Connector, *servo.Recorder) {
	opts := cfg.ServoOptions()
	if dryRun {
		rec := servo.NewRecorder(opts.Limits)
		return func(context.Context) (servo.Actuator, error) {
			return rec, nil
		}, rec
	}

	opts.Logger = logger.With("component", "servo")
	return func(ctx context.Context) (servo.Actuator, error) {
		act, err := servo.Connect(ctx, cfg.Device, opts)
		if err != nil {
			return nil, err
		}
		return act, nil
	}, nil
}

func openJournal(cfg *config.Config, logger *slog.Logger) (*journal.Journal, error) {
	tc, err := json.Marshal(cfg.TrackingConfig())
	if err != nil {
		return nil, fmt.Errorf("encode tracking config: %w", err)
	}
	j, err := journal.Open(cfg.Journal.Path,
		journal.WithLogger(logger.With("component", "journal")),
		journal.WithRunInfo(cfg.Device, string(tc)))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	logger.Info("journal open", "path", cfg.Journal.Path, "run_id", j.RunID())
	return j, nil
}
