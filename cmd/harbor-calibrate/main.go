// Command harbor-calibrate runs the calibration engine over a recorded
// session file and writes the resulting profile and report.
//
//	harbor-calibrate -session walk.json -out profile.json -report-xlsx report.xlsx
//	harbor-calibrate -session walk.json -deploy /var/lib/harbor/profiles
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	logpkg "harbor-presence/common/logger"
	"harbor-presence/internal/calibration"
	"harbor-presence/internal/profile"

	"go.uber.org/zap"
)

func main() {
	sessionPath := flag.String("session", "", "recorded calibration session (JSON)")
	deployDir := flag.String("deploy", "", "profile directory to deploy into (writes profile-<n>.json and latest.json)")
	outPath := flag.String("out", "", "write the profile here instead of deploying")
	version := flag.Int("version", 0, "profile version with -out (default 1)")
	reportJSON := flag.String("report-json", "", "write the report as JSON")
	reportXLSX := flag.String("report-xlsx", "", "write the report as an Excel workbook")
	maxStdDev := flag.Float64("max-stddev", 4, "stability bound in dB")
	maxBias := flag.Float64("max-bias", 10, "bias magnitude bound in dB")
	minSamples := flag.Int("min-samples", 20, "minimum samples per receiver and placement")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *sessionPath == "" || (*deployDir == "" && *outPath == "") {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logpkg.NewLogger(*logLevel, "console", "harbor-calibrate")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(logger, *sessionPath, *deployDir, *outPath, *version, *reportJSON, *reportXLSX,
		calibration.Options{MaxStdDevDB: *maxStdDev, MaxBiasDB: *maxBias, MinSamples: *minSamples}); err != nil {
		logger.Fatal("Calibration failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, sessionPath, deployDir, outPath string, version int, reportJSON, reportXLSX string, opts calibration.Options) error {
	session, err := calibration.LoadSession(sessionPath)
	if err != nil {
		return err
	}

	if deployDir != "" {
		if version, err = profile.NextVersion(deployDir); err != nil {
			return err
		}
	} else if version <= 0 {
		version = 1
	}

	engine := calibration.NewEngine(opts, logger)
	p, report, err := engine.Calibrate(session, version)
	if err != nil {
		return err
	}

	for _, w := range report.Warnings {
		logger.Warn("Calibration warning", zap.String("warning", w))
	}
	logger.Info("Calibration finished",
		zap.Int("version", p.Version),
		zap.Any("bias_db", p.BiasDB),
		zap.Float64("min_dominance_db", p.Decision.MinDominanceDB),
		zap.Float64("max_peak_lag_s", p.Decision.MaxPeakLagS),
		zap.Int("warnings", len(report.Warnings)),
	)

	if reportJSON != "" {
		f, err := os.Create(reportJSON)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		if err := report.WriteJSON(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	if reportXLSX != "" {
		if err := calibration.WriteXLSX(report, reportXLSX); err != nil {
			return err
		}
	}

	if deployDir != "" {
		name, err := profile.Save(deployDir, p)
		if err != nil {
			return err
		}
		logger.Info("Profile deployed", zap.String("dir", deployDir), zap.String("file", name))
		return nil
	}

	if err := profile.Write(outPath, p); err != nil {
		return err
	}
	logger.Info("Profile written", zap.String("path", outPath))
	return nil
}
