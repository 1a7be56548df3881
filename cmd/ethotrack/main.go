// Command ethotrack tracks one animal per region of a video, drives the
// actuators of the configured stimulator, and records every position to
// a sqlite result file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/ethotrack/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a tuning config JSON file (defaults apply when empty)")
	videoPath     = flag.String("video", "", "Video file to track (requires a gocv build)")
	framesDir     = flag.String("frames-dir", "", "Directory of PNG/JPEG frames to track, in name order")
	frameInterval = flag.Duration("frame-interval", 40*time.Millisecond, "Time between frames read from -frames-dir")
	maskPath      = flag.String("mask", "", "Label image defining the ROIs; overrides the target-grid builder")
	dbPath        = flag.String("db", "ethotrack.db", "Result database path")
	duration      = flag.Duration("duration", 0, "Stop after this much frame time (0 for the whole input)")
	schedule      = flag.String("schedule", "", "Actuation schedule, e.g. '2026-01-01 00:00:00 > 2026-01-02 00:00:00'")
	timezone      = flag.String("timezone", "", "Zone the schedule is written in (default: host zone)")
	stimulatorF   = flag.String("stimulator", "", "Stimulator: none, sleep_deprivation or middle_crossing")
	serialPort    = flag.String("serial-port", "", "Actuator serial port, or 'auto' to probe")
	listen        = flag.String("listen", "", "Admin HTTP listen address, e.g. localhost:8080")
	grpcListen    = flag.String("grpc-listen", "", "gRPC health listen address, e.g. localhost:9090")
	plotPath      = flag.String("plot", "", "Write a trajectory PNG here when the run ends")
	chartPath     = flag.String("chart", "", "Write an interactive HTML chart here when the run ends")
	videoOut      = flag.String("video-out", "", "Write an annotated video here (requires a gocv build)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	opts := options{
		configPath:    *configPath,
		videoPath:     *videoPath,
		framesDir:     *framesDir,
		frameInterval: *frameInterval,
		maskPath:      *maskPath,
		dbPath:        *dbPath,
		duration:      *duration,
		schedule:      *schedule,
		timezone:      *timezone,
		stimulator:    *stimulatorF,
		serialPort:    *serialPort,
		listen:        *listen,
		grpcListen:    *grpcListen,
		plotPath:      *plotPath,
		chartPath:     *chartPath,
		videoOut:      *videoOut,
	}
	if err := opts.validate(); err != nil {
		log.Printf("invalid flags: %v", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("ethotrack %s", version.String())
	if err := run(ctx, opts); err != nil {
		log.Printf("run failed: %v", err)
		stop()
		os.Exit(1)
	}
}
