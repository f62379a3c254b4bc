package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/banshee-data/speedcam/internal/analytics"
	"github.com/banshee-data/speedcam/internal/api"
	"github.com/banshee-data/speedcam/internal/classify"
	"github.com/banshee-data/speedcam/internal/config"
	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/framebuffer"
	"github.com/banshee-data/speedcam/internal/httputil"
	"github.com/banshee-data/speedcam/internal/images"
	"github.com/banshee-data/speedcam/internal/metrics"
	"github.com/banshee-data/speedcam/internal/notify"
	"github.com/banshee-data/speedcam/internal/pipeline"
	"github.com/banshee-data/speedcam/internal/retention"
	"github.com/banshee-data/speedcam/internal/speed"
	"github.com/banshee-data/speedcam/internal/stream"
	"github.com/banshee-data/speedcam/internal/tracking"
	"github.com/banshee-data/speedcam/internal/version"
	"github.com/banshee-data/speedcam/internal/vision"
)

const (
	liveQuality    = 80
	streamInterval = 100 * time.Millisecond
	sinkQueue      = 64
	sinkTimeout    = 10 * time.Second
)

func serveCommand(flags *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection pipeline and the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, true)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Override server.listen")
	return cmd
}

// closers runs cleanup functions in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info("starting", "version", version.String(), "listen", cfg.Server.Listen, "backend", cfg.Storage.Backend)

	var cleanup closers
	defer cleanup.run()

	sentryOn, err := notify.InitSentry(notify.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     version.Release(),
	})
	if err != nil {
		log.Ops("sentry disabled", "error", err)
	}
	if sentryOn {
		cleanup.add(func() { notify.FlushSentry(2 * time.Second) })
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	cleanup.add(func() {
		if err := store.Close(); err != nil {
			log.Error("event log close failed", "error", err)
		}
	})

	imgs, err := images.NewStore(cfg.Storage.ImageDir, nil)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pm, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	buf := framebuffer.New(cfg.BufferConfig())
	src := stream.New(cfg.StreamConfig(), vision.Opener{}, buf)

	detector := vision.NewMOG2Detector(vision.DetectorConfig{
		ROI:      cfg.ROI(),
		MinArea:  cfg.Detection.MinArea,
		MaxArea:  cfg.Detection.MaxArea,
		BlurSize: cfg.Detection.BlurSize,
	})
	cleanup.add(func() { detector.Close() })

	var classifier classify.Classifier
	if cfg.Vehicle.ClassifierURL != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: cfg.Vehicle.ClassifierTimeout})
		classifier = classify.NewHTTPClassifier(cfg.Vehicle.ClassifierURL, client)
	} else {
		log.Info("no classifier configured, using fallback policy")
	}

	stats := analytics.NewService(store, cfg.Server.SpeedLimitKMH, time.Minute)
	sinks, closeSinks := buildSinks(cfg, pm)
	sinks = append(sinks, stats)

	opts := pipeline.Options{
		Frames:     buf,
		Detector:   detector,
		Tracks:     tracking.NewTable(cfg.TrackingConfig()),
		Estimator:  speed.New(cfg.SpeedConfig()),
		Classifier: classify.NewRunner(classifier, cfg.Policy(), cfg.RunnerConfig()),
		Store:      store,
		Renderer:   vision.NewRenderer(cfg.Storage.ImageQuality, liveQuality),
		Sinks:      sinks,
		Alerter:    notify.OperatorAlerter{Component: "pipeline", Sentry: sentryOn},
		Observer:   pm,
	}
	if cfg.Storage.SaveImages {
		opts.Images = imgs
	}
	orch, err := pipeline.New(pipeline.Config{
		ROI:           cfg.ROI(),
		SaveImages:    cfg.Storage.SaveImages,
		UnitMPH:       cfg.Speed.SpeedUnitIsMPH,
		JPEGQuality:   liveQuality,
		StatsInterval: cfg.Logging.StatsInterval,
	}, opts)
	if err != nil {
		closeSinks()
		return err
	}

	registry.MustRegister(metrics.NewStateCollector(metrics.Sources{
		Pipeline: orch.Stats,
		Buffer:   buf.Stats,
		Stream:   src.Stats,
		State:    src.State,
	}))

	cleaner := retention.New(retention.Config{
		RetentionDays: cfg.Storage.RetentionDays,
		Interval:      cfg.Storage.CleanupInterval,
	}, store, imgs)

	srv := api.NewServer(api.Options{
		Pipeline:      orch,
		Buffer:        buf,
		Source:        src,
		Events:        store,
		Analytics:     stats,
		Images:        imgs,
		Cleaner:       cleaner,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Admin:         adminRoutes(store),
		SpeedLimitKMH: cfg.Server.SpeedLimitKMH,
		UnitMPH:       cfg.Speed.SpeedUnitIsMPH,
	})
	mux, err := srv.ServeMux()
	if err != nil {
		closeSinks()
		return fmt.Errorf("failed to build routes: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Closing the buffer lets the orchestrator drain what was captured.
		defer buf.Close()
		if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("stream source stopped", "error", err)
		}
		log.Info("stream routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("pipeline stopped", "error", err)
		}
		log.Info("pipeline routine terminated")
	}()

	if cfg.Storage.RetentionDays > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cleaner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("retention stopped", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.RunStream(ctx, streamInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runHTTP(ctx, cfg.Server.Listen, api.LoggingMiddleware(mux))
	}()

	wg.Wait()
	closeSinks()
	log.Info("graceful shutdown complete")
	return nil
}

func runHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Ops("HTTP server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			log.Ops("HTTP server force close error", "error", err)
		}
	}
	log.Info("HTTP server routine stopped")
}

// buildSinks starts the optional MQTT and violation notification
// dispatchers. The returned func drains and closes them.
func buildSinks(cfg *config.Config, pm *metrics.PipelineMetrics) ([]pipeline.EventSink, func()) {
	var sinks []pipeline.EventSink
	var cleanup closers

	onError := func(name string, err error) {
		pm.SinkFailed(name)
	}

	if cfg.MQTT.Broker != "" {
		pub, err := notify.NewMQTTPublisher(notify.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Ops("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			d := notify.NewDispatcher("mqtt", pub.Publish, sinkQueue, sinkTimeout, onError)
			sinks = append(sinks, d)
			cleanup.add(pub.Close)
			cleanup.add(d.Close)
		}
	}

	if len(cfg.Notify.URLs) > 0 && !violationNotifyEnabled(cfg) {
		log.Ops("violation notifications disabled", "reason", "notify.speed_limit_kmh is 0")
	}
	if violationNotifyEnabled(cfg) {
		n, err := notify.NewViolationNotifier(cfg.Notify.URLs, cfg.Notify.SpeedLimitKMH, cfg.Speed.SpeedUnitIsMPH, sinkTimeout)
		if err != nil {
			log.Ops("violation notifications disabled", "error", err)
		} else {
			d := notify.NewDispatcher("notify", n.Notify, sinkQueue, 3*sinkTimeout, onError)
			sinks = append(sinks, d)
			cleanup.add(d.Close)
		}
	}
	return sinks, cleanup.run
}

// violationNotifyEnabled reports whether push notifications have both a
// target and a limit. A zero notify.speed_limit_kmh disables them.
func violationNotifyEnabled(cfg *config.Config) bool {
	return len(cfg.Notify.URLs) > 0 && cfg.Notify.SpeedLimitKMH > 0
}

func openStore(cfg *config.Config) (eventlog.Store, error) {
	path := cfg.Storage.CSVPath
	if cfg.Storage.Backend == "sqlite" {
		path = cfg.Storage.DBPath
	}
	store, err := eventlog.Open(cfg.Storage.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	return store, nil
}

// adminRoutes mounts the SQL debug console when the log is SQLite backed.
func adminRoutes(store eventlog.Store) func(*http.ServeMux) error {
	sqlStore, ok := store.(*eventlog.SQLStore)
	if !ok {
		return nil
	}
	return sqlStore.AttachAdminRoutes
}
