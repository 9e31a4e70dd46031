// Responsible for storing the measurements published by the oxygen monitor.
// Depends on the monitor API being online.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/aggregator"
	"github.com/NotCoffee418/oxygen_monitor/pkg/config"
	"github.com/NotCoffee418/oxygen_monitor/pkg/interpreter"
	"github.com/NotCoffee418/oxygen_monitor/pkg/oxdb"
	"github.com/NotCoffee418/oxygen_monitor/pkg/pathing"
	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const aggregateInterval = time.Minute

func main() {
	flagSet := pflag.NewFlagSet("oxygen_collector", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", config.DefaultCollectorConfigPath(), "path to the collector TOML config")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := config.LoadCollectorConfig(*configPath); err != nil {
		logrus.Fatalf("Failed to load collector config: %v", err)
	}
	cfg := config.ActiveCollectorConfig
	config.ApplyLogLevel(cfg.LogLevel)

	if err := pathing.EnsureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		logrus.Fatal(err)
	}
	db, err := oxdb.Open(cfg.DatabasePath)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runAggregator(ctx, db)

	interpreter.StartListener(ctx, cfg.MonitorHost, func(m *types.Measurement) {
		handleMeasurement(db, m)
	}, logrus.StandardLogger())
}

func handleMeasurement(db *sql.DB, m *types.Measurement) {
	if err := oxdb.InsertMeasurement(db, m); err != nil {
		logrus.WithError(err).Error("Failed to store measurement")
		return
	}
	logrus.WithFields(logrus.Fields{
		"oxygen":     m.Oxygen,
		"heart_rate": m.HeartRate,
	}).Debug("Stored measurement")
}

func runAggregator(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(aggregateInterval)
	defer ticker.Stop()

	var reported int64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := aggregator.UpdateAggregates(db, now); err != nil {
				logrus.WithError(err).Warn("Failed to update hourly aggregates")
				continue
			}
			reported = reportCompletedHour(db, now, reported)
		}
	}
}

// reportCompletedHour logs the summary of the last finished hour once.
// Returns the hour start that has now been reported.
func reportCompletedHour(db *sql.DB, now time.Time, reported int64) int64 {
	summary, err := aggregator.LastCompletedHour(db, now)
	if err != nil {
		logrus.WithError(err).Warn("Failed to read hourly summary")
		return reported
	}
	if summary == nil || summary.Aggregate.HourStart == reported {
		return reported
	}

	logrus.WithFields(logrus.Fields{
		"hour_start":     time.Unix(summary.Aggregate.HourStart, 0).UTC().Format(time.RFC3339),
		"avg_oxygen":     summary.Aggregate.AvgOxygen,
		"min_oxygen":     summary.Aggregate.MinOxygen,
		"max_oxygen":     summary.Aggregate.MaxOxygen,
		"avg_heart_rate": summary.Aggregate.AvgHeartRate,
		"samples":        summary.Aggregate.SampleCount,
	}).Info("Hourly summary")
	return summary.Aggregate.HourStart
}
