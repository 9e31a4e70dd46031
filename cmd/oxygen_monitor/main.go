// Oxygen monitor reads the pulse oximeter on the serial port, logs every
// measurement to a .o2d file and serves the live state to observers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/broadcaster"
	"github.com/NotCoffee418/oxygen_monitor/pkg/config"
	"github.com/NotCoffee418/oxygen_monitor/pkg/measurementlog"
	"github.com/NotCoffee418/oxygen_monitor/pkg/metrics"
	"github.com/NotCoffee418/oxygen_monitor/pkg/monitor"
	"github.com/NotCoffee418/oxygen_monitor/pkg/observer"
	"github.com/NotCoffee418/oxygen_monitor/pkg/pathing"
	"github.com/NotCoffee418/oxygen_monitor/pkg/port_reader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	flagSet := pflag.NewFlagSet("oxygen_monitor", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", config.DefaultMonitorConfigPath(), "path to the monitor TOML config")
	device := flagSet.StringP("device", "d", "", "serial device, overrides serial_device from the config")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := config.LoadMonitorConfig(*configPath); err != nil {
		logrus.Fatalf("Failed to load monitor config: %v", err)
	}
	cfg := config.ActiveMonitorConfig
	if *device != "" {
		cfg.SerialDevice = *device
	}
	config.ApplyLogLevel(cfg.LogLevel)

	if err := run(cfg); err != nil {
		logrus.Fatal(err)
	}
}

func run(cfg *config.MonitorConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Without a data file the session still runs, measurements are only published
	var sink monitor.Sink
	if err := pathing.EnsureDir(cfg.DataDir); err != nil {
		logrus.WithError(err).Error("Measurements will not be saved")
	} else {
		dataFile := pathing.NewDataFilePath(cfg.DataDir)
		measurementLog, err := measurementlog.Open(dataFile, logrus.StandardLogger(), measurementlog.WithFailureHook(m.LogWriteFailed))
		if err != nil {
			logrus.WithError(err).Error("Measurements will not be saved")
		} else {
			logrus.WithField("file", dataFile).Info("Logging measurements")
			sink = measurementLog
		}
	}

	b := broadcaster.New()
	serialPort := port_reader.NewSerialPort(cfg.SerialDevice)
	controller := monitor.New(serialPort, b, sink,
		monitor.WithMetrics(m),
		monitor.WithSettings(port_reader.Settings{
			BaudRate: cfg.Baudrate,
			DataBits: port_reader.DefaultSettings.DataBits,
			StopBits: cfg.StopBits,
		}),
	)
	defer func() {
		if err := controller.Close(); err != nil {
			logrus.WithError(err).Error("Failed to shut down monitor cleanly")
		}
	}()

	server := observer.NewServer(b, func() string { return controller.State().String() }, logrus.StandardLogger())
	defer server.Stop()

	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	httpServer := &http.Server{
		Addr:              listener,
		Handler:           server.Handler(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting Oxygen Monitor API on %s", listener)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logrus.Info("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
