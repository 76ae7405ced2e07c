// Command facesim is a synthetic perception producer. It orbits faces around
// the frame and publishes them to the gimbal ingest endpoint, which is enough
// to exercise the tracker without a camera.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	applog "github.com/econokeith/robocam/internal/log"
	"github.com/econokeith/robocam/pkg/ingest"
	"github.com/econokeith/robocam/pkg/timers"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8090/ws/perception", "Ingest websocket URL")
	names := flag.String("names", "alice", "Comma separated face names")
	primary := flag.String("primary", "", "Primary face name (empty leaves it unset)")
	rate := flag.Float64("rate", 15, "Frames published per second")
	radius := flag.Float64("radius", 200, "Orbit radius in pixels")
	size := flag.Float64("size", 120, "Face box size in pixels")
	period := flag.Duration("period", 8*time.Second, "Time for one orbit")
	width := flag.Float64("width", 1280, "Frame width")
	height := flag.Float64("height", 720, "Frame height")
	delay := flag.Duration("delay", 2*time.Second, "Wait before the first face appears")
	blinkOn := flag.Duration("blink-on", 0, "Visible phase length (0 keeps faces always visible)")
	blinkOff := flag.Duration("blink-off", 0, "Hidden phase length (defaults to -blink-on)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	applog.Init(level)
	logger := applog.With("component", "facesim")

	faces := splitNames(*names)
	if len(faces) == 0 {
		log.Fatalf("❌ -names must list at least one face")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub, err := ingest.Dial(ctx, *url)
	if err != nil {
		log.Fatalf("❌ Failed to connect to ingest: %v", err)
	}
	defer pub.Close()

	fmt.Println("🙂 Face simulator")
	fmt.Printf("   Ingest: %s (session %s)\n", *url, pub.ID())
	fmt.Printf("   Faces: %s\n", strings.Join(faces, ", "))
	fmt.Println()

	if *primary != "" {
		if _, err := pub.SetPrimary(ctx, *primary); err != nil {
			log.Fatalf("❌ Failed to set primary: %v", err)
		}
	}

	gate, err := timers.New(timers.Spec{Kind: timers.KindElapsed, Interval: *delay})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	var blink timers.Timer
	if *blinkOn > 0 {
		blink, err = timers.New(timers.Spec{Kind: timers.KindBlink, On: *blinkOn, Off: *blinkOff})
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
	heartbeat := timers.NewRateLimiter(5*time.Second, nil)

	path := orbit{
		centerX: *width / 2,
		centerY: *height / 2,
		radius:  *radius,
		size:    *size,
		period:  *period,
	}

	interval := timers.Hz(*rate)
	if interval <= 0 {
		log.Fatalf("❌ -rate must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	var sent, hidden uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping", "frames", sent, "hidden", hidden)
			return
		case now := <-ticker.C:
			if !gate.Evaluate() {
				continue
			}

			frameNames, boxes := faces, path.frame(now.Sub(start), faces)
			if blink != nil && !blink.Evaluate() {
				frameNames, boxes = nil, nil
				hidden++
			}

			reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
			version, err := pub.PublishDetections(reqCtx, frameNames, boxes, *primary)
			reqCancel()
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				logger.Error("publish failed", "error", err)
				return
			}
			sent++

			if heartbeat.Evaluate() {
				logger.Info("publishing", "frames", sent, "version", version, "faces", len(frameNames))
			}
		}
	}
}

func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
