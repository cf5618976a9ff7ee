package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/calibration"
	"github.com/banshee-data/tofcam/internal/config"
	"github.com/banshee-data/tofcam/internal/frame"
	"github.com/banshee-data/tofcam/internal/logreader"
	"github.com/banshee-data/tofcam/internal/testutil"
)

func replayConfig(t *testing.T, frames ...frame.Frame) *config.PipelineConfig {
	t.Helper()
	path := testutil.WriteLog(t, frames...)
	pace := 0
	cfg := config.EmptyPipelineConfig()
	cfg.Source.LogFile = &path
	cfg.Source.ReadingFPS = &pace
	return cfg
}

func TestRun_ReplayIsRecordedAndReported(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	frames := []frame.Frame{
		testutil.RampFrame(t, 100, 100, 1),
		testutil.RampFrame(t, 100, 100, 2),
		testutil.RampFrame(t, 100, 100, 3),
	}
	cfg := replayConfig(t, frames...)
	dir := t.TempDir()
	cfg.RecordDir = &dir

	require.NoError(t, run(context.Background(), cfg, 1))

	assert.True(t, logs.Contains("[depth] frame 3 100x100"), "logs: %v", logs.Lines())

	recorded, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	require.Len(t, recorded, 1)

	r := logreader.NewReader(recorded[0])
	require.NoError(t, r.Initialise(context.Background()))
	defer r.Close()
	for i, want := range frames {
		got, ok := r.NextImage()
		require.True(t, ok, "frame %d", i)
		if diff := cmp.Diff(want.Pixels(), got.Pixels()); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	_, ok := r.NextImage()
	assert.False(t, ok)

	sidecars, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, sidecars, 1)
}

func TestRun_MissingCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")
	cfg := config.EmptyPipelineConfig()
	cfg.Source.LogFile = &path

	err := run(context.Background(), cfg, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, logreader.ErrFileNotFound)
}

func TestRun_InvalidSource(t *testing.T) {
	port, logFile := "/dev/ttyUSB0", "capture.log"
	cfg := config.EmptyPipelineConfig()
	cfg.Source.Port = &port
	cfg.Source.LogFile = &logFile

	assert.Error(t, run(context.Background(), cfg, 0))
}

func TestRun_SimulatedUntilCancelled(t *testing.T) {
	on := true
	cfg := config.EmptyPipelineConfig()
	cfg.Source.Simulate = &on

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, run(ctx, cfg, 1))
}

func TestRun_OutOfRangeUnitWarnsOnce(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	on, unit := true, 12
	cfg := config.EmptyPipelineConfig()
	cfg.Source.Simulate = &on
	cfg.Source.Device.QuantizationUnit = &unit

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, run(ctx, cfg, 0))

	assert.Equal(t, 1, logs.Count("quantization unit must be in [0,9], got 12"), "logs: %v", logs.Lines())
	assert.Equal(t, 0, cfg.Source.Device.GetQuantizationUnit())
}

func TestDepthReporter_EveryNthFrame(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	r := newDepthReporter(calibration.NewDefault(), 2)
	f := testutil.FilledFrame(t, 25, 51)

	r.ConsumeImage(f)
	assert.Empty(t, logs.Lines())
	r.ConsumeImage(f)
	require.Len(t, logs.Lines(), 1)
	assert.Contains(t, logs.Lines()[0], "frame 2 25x25: 625 valid, depth min 0.100 mean 0.100 max 0.100")
	assert.Contains(t, logs.Lines()[0], "625 points")
}

func TestDeviceName(t *testing.T) {
	on := true
	port, logFile := "/dev/ttyUSB1", "capture.log"

	assert.Equal(t, "auto", deviceName(config.SourceConfig{}))
	assert.Equal(t, "/dev/ttyUSB1", deviceName(config.SourceConfig{Port: &port}))
	assert.Equal(t, "capture.log", deviceName(config.SourceConfig{LogFile: &logFile}))
	assert.Equal(t, "simulator", deviceName(config.SourceConfig{Simulate: &on}))
}

func TestRun_ReplayWithDebugServer(t *testing.T) {
	cfg := replayConfig(t, testutil.RampFrame(t, 50, 50, 1))
	addr := "127.0.0.1:0"
	cfg.Listen = &addr

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), cfg, 0) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the replay ended")
	}
}
