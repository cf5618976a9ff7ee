// Command tofcam acquires depth frames from a MaixSense-A010 sensor, a
// simulated sensor or a recorded capture, and fans them out to the depth
// reporter, an optional recorder and the debug HTTP pages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/tofcam/internal/config"
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/version"
)

var (
	configFile  = flag.String("config", "", "Pipeline configuration JSON file (defaults apply when empty)")
	port        = flag.String("port", "", "Serial device of the sensor (found by USB identifiers when empty)")
	logFile     = flag.String("log", "", "Replay a recorded capture instead of a live sensor")
	simulate    = flag.Bool("simulate", false, "Use the built-in simulated sensor")
	fps         = flag.Int("fps", config.DefaultFPS, "Device frame rate; with -log, the replay pace (0 replays as fast as possible)")
	unit        = flag.Int("unit", 0, "Quantization unit: 0 for the nonlinear mode, 1..9 for linear steps")
	binning     = flag.String("binning", "100x100", "Frame resolution: 100x100, 50x50 or 25x25")
	recordDir   = flag.String("record", "", "Record every frame to a capture in this directory")
	listen      = flag.String("listen", "", "Debug HTTP listen address, e.g. localhost:8080")
	reportEvery = flag.Int("report-every", 20, "Log depth statistics every N frames (0 disables)")
	verbose     = flag.Bool("verbose", false, "Log per-packet diagnostics")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyFlags(cfg, set); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("%s starting", version.String())
	if err := run(ctx, cfg, *reportEvery); err != nil {
		log.Printf("pipeline failed: %v", err)
		stop()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		return config.EmptyPipelineConfig(), nil
	}
	return config.LoadPipelineConfig(path)
}

// applyFlags copies the flags named in set over cfg, so an explicit flag
// wins over the file and an unset flag leaves the file value alone.
func applyFlags(cfg *config.PipelineConfig, set map[string]bool) error {
	if set["port"] {
		v := *port
		cfg.Source.Port = &v
	}
	if set["log"] {
		v := *logFile
		cfg.Source.LogFile = &v
	}
	if set["simulate"] {
		v := *simulate
		cfg.Source.Simulate = &v
	}
	if set["fps"] {
		v := *fps
		if cfg.Source.GetLogFile() != "" {
			cfg.Source.ReadingFPS = &v
		} else {
			cfg.Source.Device.FPS = &v
		}
	}
	if set["unit"] {
		v := *unit
		cfg.Source.Device.QuantizationUnit = &v
	}
	if set["binning"] {
		v := *binning
		cfg.Source.Device.Binning = &v
	}
	if set["record"] {
		v := *recordDir
		cfg.RecordDir = &v
	}
	if set["listen"] {
		v := *listen
		cfg.Listen = &v
	}
	return cfg.Validate()
}
