//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/gridmirror/adapters/converters/passthrough"
	"github.com/weaviate/gridmirror/adapters/repos/docstore"
	"github.com/weaviate/gridmirror/entities/descriptor"
	enterrors "github.com/weaviate/gridmirror/entities/errors"
	"github.com/weaviate/gridmirror/usecases/config"
	"github.com/weaviate/gridmirror/usecases/mirror"
	"github.com/weaviate/gridmirror/usecases/monitoring"
)

const (
	TargetLoad        = "load"
	TargetRecalculate = "recalculate"
	TargetServe       = "serve"
)

// Options represents Command line options
type Options struct {
	ConfigFile    string `long:"config-file" description:"path to the yaml or json config file" default:"./gridmirror.conf.yaml"`
	DataPath      string `long:"data-path" description:"directory of the document store, overrides the config file"`
	Target        string `long:"target" description:"what to run: load, recalculate or serve" default:"serve"`
	MetricsListen string `long:"metrics-listen" description:"address of the prometheus endpoint, overrides the config file"`
}

func main() {
	var opts Options
	log := logrus.New()

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(opts.ConfigFile, log)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if opts.DataPath != "" {
		cfg.DataPath = opts.DataPath
	}
	if opts.MetricsListen != "" {
		cfg.Monitoring.Listen = opts.MetricsListen
	}
	configureLogger(log, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts.Target, cfg, log); err != nil {
		log.WithError(err).WithField("target", opts.Target).Fatal("gridmirror failed")
	}
}

func run(ctx context.Context, target string, cfg config.Config, log *logrus.Logger) error {
	descs := make([]*descriptor.Descriptor, 0, len(cfg.Collections))
	for _, c := range cfg.Collections {
		d, err := c.Descriptor()
		if err != nil {
			return err
		}
		descs = append(descs, d)
	}

	st, err := docstore.Open(cfg.DataPath, docstore.Options{
		ReadPreference: cfg.Store.ReadPreference,
		Timeout:        cfg.Store.Timeout,
		ScanPageSize:   cfg.Store.ScanPageSize,
	}, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var (
		reg       prometheus.Registerer
		metricReg *prometheus.Registry
	)
	if cfg.Monitoring.Enabled {
		metricReg = prometheus.NewRegistry()
		metricReg.MustRegister(collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg = metricReg
	}

	m, err := mirror.New(mirror.Config{
		Settings:    cfg,
		Database:    st,
		Converters:  passthrough.NewConverters(),
		Descriptors: descs,
		Registerer:  reg,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	if metricReg != nil {
		if err := serveMetrics(ctx, cfg.Monitoring.Listen, metricReg, m.Metrics(), log); err != nil {
			return err
		}
	}

	switch target {
	case TargetLoad:
		return m.InitialLoad(ctx, func(typeName string, records []any) error {
			log.WithFields(logrus.Fields{
				"action":  "initial_load",
				"type":    typeName,
				"records": len(records),
			}).Info("loaded")
			return nil
		})

	case TargetRecalculate:
		totals, err := m.Recalculate(ctx)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"action":      "recalculate",
			"collections": totals.Collections,
			"scanned":     totals.Scanned,
			"updated":     totals.Updated,
		}).Info("instance ids recalculated")
		return nil

	case TargetServe:
		if err := m.Start(ctx); err != nil {
			return err
		}
		defer m.Close()
		log.WithField("action", "startup").Info("gridmirror running")
		<-ctx.Done()
		log.WithField("action", "shutdown").Info("stopping")
		return nil

	default:
		return errors.New("--target empty or unknown")
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, metrics *monitoring.Metrics,
	log logrus.FieldLogger,
) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux}

	enterrors.GoWrapper(func() {
		if err := srv.Serve(monitoring.CountingListener(l, metrics.MetricsConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}, log)
	enterrors.GoWrapper(func() {
		<-ctx.Done()
		srv.Close()
	}, log)

	log.WithField("action", "startup").WithField("listen", addr).Info("serving metrics")
	return nil
}

func configureLogger(log *logrus.Logger, cfg config.Logging) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
}
