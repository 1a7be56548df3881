package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"tailscale.com/tsweb"

	"github.com/banshee-data/ethotrack/internal/background"
	"github.com/banshee-data/ethotrack/internal/camera"
	"github.com/banshee-data/ethotrack/internal/config"
	"github.com/banshee-data/ethotrack/internal/db"
	"github.com/banshee-data/ethotrack/internal/drawer"
	"github.com/banshee-data/ethotrack/internal/fsutil"
	"github.com/banshee-data/ethotrack/internal/hardware"
	"github.com/banshee-data/ethotrack/internal/httputil"
	"github.com/banshee-data/ethotrack/internal/monitor"
	"github.com/banshee-data/ethotrack/internal/results"
	"github.com/banshee-data/ethotrack/internal/roi"
	"github.com/banshee-data/ethotrack/internal/serialmux"
	"github.com/banshee-data/ethotrack/internal/stimulator"
	"github.com/banshee-data/ethotrack/internal/timeutil"
	"github.com/banshee-data/ethotrack/internal/tracking"
	"github.com/banshee-data/ethotrack/internal/vision"
)

// healthService is the name the gRPC health server reports the run under.
const healthService = "ethotrack.Monitor"

type options struct {
	configPath    string
	videoPath     string
	framesDir     string
	frameInterval time.Duration
	maskPath      string
	dbPath        string
	duration      time.Duration
	schedule      string
	timezone      string
	stimulator    string
	serialPort    string
	listen        string
	grpcListen    string
	plotPath      string
	chartPath     string
	videoOut      string

	// fs and portOpener are replaced in tests.
	fs         fsutil.FileSystem
	portOpener serialmux.PortOpener
}

func (o options) validate() error {
	switch {
	case o.videoPath == "" && o.framesDir == "":
		return errors.New("one of -video or -frames-dir is required")
	case o.videoPath != "" && o.framesDir != "":
		return errors.New("-video and -frames-dir are mutually exclusive")
	case o.dbPath == "":
		return errors.New("-db is required")
	case o.frameInterval <= 0:
		return fmt.Errorf("-frame-interval must be positive, got %v", o.frameInterval)
	case o.duration < 0:
		return fmt.Errorf("-duration must be non-negative, got %v", o.duration)
	case o.timezone != "" && !timeutil.IsTimezoneValid(o.timezone):
		return fmt.Errorf("unknown -timezone %q", o.timezone)
	}
	return nil
}

// tuning loads the config file, if any, and applies the flag overrides.
func (o options) tuning() (*config.TuningConfig, error) {
	cfg := config.EmptyTuningConfig()
	if o.configPath != "" {
		loaded, err := config.LoadTuningConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.maskPath != "" {
		builder := "mask"
		cfg.ROIBuilder = &builder
	}
	if o.duration > 0 {
		d := o.duration.String()
		cfg.MaxDuration = &d
	}
	if o.schedule != "" {
		s := o.schedule
		cfg.Schedule = &s
	}
	if o.stimulator != "" {
		s := o.stimulator
		cfg.Stimulator = &s
	}
	if o.serialPort != "" {
		p := o.serialPort
		cfg.SerialPort = &p
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o options) openSource() (camera.Source, error) {
	if o.videoPath != "" {
		return openVideo(o.videoPath)
	}
	return camera.NewImageDirSource(o.fs, o.framesDir, o.frameInterval)
}

func (o options) builder(cfg *config.TuningConfig, prims vision.Primitives) (roi.Builder, error) {
	if cfg.GetROIBuilder() == "mask" {
		if o.maskPath == "" {
			return nil, errors.New("the mask roi builder needs -mask")
		}
		data, err := o.fs.ReadFile(o.maskPath)
		if err != nil {
			return nil, fmt.Errorf("read mask: %w", err)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode mask %s: %w", o.maskPath, err)
		}
		return roi.NewMaskBuilder(camera.ToGray(img), prims), nil
	}
	return roi.NewTargetGridBuilder(roi.TargetGridConfigFromTuning(cfg), prims)
}

// drawers builds only what the flags ask for. The chart is nil unless it
// is written (-chart) or served live (-listen).
func (o options) drawers(cfg *config.TuningConfig) (drawer.Multi, *drawer.ChartDrawer, error) {
	var out drawer.Multi
	var chart *drawer.ChartDrawer
	trace := drawer.NewTrace(cfg.GetTraceStride(), cfg.GetTracePoints())
	if o.plotPath != "" {
		out = append(out, drawer.NewPlotDrawer(o.fs, o.plotPath, trace))
	}
	if o.chartPath != "" || o.listen != "" {
		chart = drawer.NewChartDrawer(o.fs, o.chartPath, trace)
		out = append(out, chart)
	}
	if o.videoOut != "" {
		fps := 1.0 / o.frameInterval.Seconds()
		vd, err := openVideoDrawer(o.videoOut, fps)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, vd)
	}
	return out, chart, nil
}

// run wires one tracking session end to end and blocks until it finishes.
func run(ctx context.Context, o options) error {
	if o.fs == nil {
		o.fs = fsutil.OSFileSystem{}
	}
	if o.frameInterval <= 0 {
		o.frameInterval = 40 * time.Millisecond
	}
	cfg, err := o.tuning()
	if err != nil {
		return err
	}
	prims := vision.Default

	src, err := o.openSource()
	if err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	defer src.Close()

	b, err := o.builder(cfg, prims)
	if err != nil {
		return err
	}
	_, rois, err := roi.Build(ctx, b, src, cfg.GetReferenceFrames())
	if err != nil {
		return fmt.Errorf("build rois: %w", err)
	}
	log.Printf("built %d rois over a %v frame", len(rois), src.Bounds().Size())

	trackCfg := tracking.ConfigFromTuning(cfg)
	bgCfg := background.ConfigFromTuning(cfg)
	units := make([]*tracking.Unit, 0, len(rois))
	for _, r := range rois {
		u, err := tracking.NewWithBackground(r, trackCfg, bgCfg, prims)
		if err != nil {
			return err
		}
		units = append(units, u)
	}

	var wg sync.WaitGroup
	hwCtx, stopHW := context.WithCancel(ctx)
	defer func() {
		stopHW()
		wg.Wait()
	}()

	dispatcher, serialMux, err := hardware.Open(ctx, hardware.ConfigFromTuning(cfg), o.portOpener, timeutil.RealClock{})
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Printf("close actuators: %v", err)
		}
		s := dispatcher.Stats()
		log.Printf("actuators: %+v", s)
	}()
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(hwCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial monitor: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		n := hardware.WatchReplies(hwCtx, serialMux)
		log.Printf("actuator replied to %d commands", n)
	}()
	if err := dispatcher.WarmUp(ctx); err != nil {
		return fmt.Errorf("warm up actuators: %w", err)
	}

	loc, err := timeutil.LoadLocation(o.timezone)
	if err != nil {
		return err
	}
	stims, err := stimulator.BindAll(units, stimulator.ConfigFromTuning(cfg), dispatcher, timeutil.RealClock{}, loc)
	if err != nil {
		return err
	}

	store, err := db.OpenDB(o.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	writer, err := results.Open(ctx, store, results.ConfigFromTuning(cfg), results.Run{
		Start: time.Now(),
		Frame: src.Bounds(),
		ROIs:  rois,
	})
	if err != nil {
		return err
	}

	draw, chart, err := o.drawers(cfg)
	if err != nil {
		return err
	}

	m, err := monitor.New(monitor.ConfigFromTuning(cfg), src, units, writer, draw)
	if err != nil {
		return err
	}

	if o.listen != "" {
		srv, err := adminServer(o.listen, store, serialMux, chart, m, writer)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("admin listening on %s", o.listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("admin server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("admin shutdown: %v", err)
			}
		}()
	}

	if o.grpcListen != "" {
		hs, stopGRPC, err := serveHealth(o.grpcListen, &wg)
		if err != nil {
			return err
		}
		defer stopGRPC()
		hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
		defer hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	runErr := m.Run(ctx)
	st := m.Status()
	fired := 0
	for _, s := range stims {
		fired += s.Fired()
	}
	ws := writer.Stats()
	log.Printf("run %s: %d frames, %d detections, %d interactions (%d stimuli), %d records committed, stopped: %s",
		writer.RunID(), st.Frames, st.Detections, st.Interactions, fired, ws.Committed, st.Reason)
	return runErr
}

func adminServer(addr string, store *db.DB, serialMux serialmux.SerialMuxInterface, chart *drawer.ChartDrawer, m *monitor.Monitor, w *results.Writer) (*http.Server, error) {
	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	serialMux.AttachAdminRoutes(mux)

	debug := tsweb.Debugger(mux)
	if chart != nil {
		debug.Handle("trajectories", "Live trajectory chart", chart)
	}
	debug.KVFunc("Frames", func() any { return m.Status().Frames })
	debug.KVFunc("Stop reason", func() any { return m.Status().Reason })
	debug.KVFunc("Records committed", func() any { return w.Stats().Committed })
	debug.KVFunc("Records pending", func() any { return w.Stats().Pending })
	debug.HandleSilentFunc("status.json", statusHandler(m, w))
	debug.HandleFunc("stop", "Stop the run after the current frame (POST)", stopHandler(m))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

type runStatus struct {
	RunID   string         `json:"run_id"`
	Monitor monitor.Status `json:"monitor"`
	Results results.Stats  `json:"results"`
}

func statusHandler(m *monitor.Monitor, w *results.Writer) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(rw, runStatus{RunID: w.RunID(), Monitor: m.Status(), Results: w.Stats()})
	}
}

func stopHandler(m *monitor.Monitor) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(rw, r, http.MethodPost) {
			return
		}
		m.Stop()
		httputil.WriteJSONOK(rw, map[string]string{"status": "stopping"})
	}
}

// serveHealth starts a gRPC server carrying only the standard health
// service. The returned func stops it gracefully.
func serveHealth(addr string, wg *sync.WaitGroup) (*health.Server, func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("grpc listen on %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("grpc health listening on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("grpc server: %v", err)
		}
	}()
	return hs, func() {
		hs.Shutdown()
		grpcServer.GracefulStop()
	}, nil
}
