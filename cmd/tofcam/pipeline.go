package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/tofcam/internal/calibration"
	"github.com/banshee-data/tofcam/internal/config"
	"github.com/banshee-data/tofcam/internal/logreader"
	"github.com/banshee-data/tofcam/internal/queue"
	"github.com/banshee-data/tofcam/internal/recorder"
	"github.com/banshee-data/tofcam/internal/source"
	"github.com/banshee-data/tofcam/internal/stream"
)

// drainTimeout bounds how long a finished replay waits for the queue.
const drainTimeout = 5 * time.Second

// run wires source -> queue -> consumers and blocks until the source is
// exhausted, fails or ctx ends.
func run(ctx context.Context, cfg *config.PipelineConfig, reportEvery int) error {
	src, err := source.New(cfg.Source)
	if err != nil {
		return err
	}
	kind := source.KindOf(cfg.Source)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := queue.New(queue.WithCapacity(cfg.Queue.GetCapacity()), queue.WithName("frames"))
	defer q.Stop()

	cal := calibration.New(cfg.Calibration.GetHorizontalFOV(), cfg.Calibration.GetVerticalFOV())
	cal.SetQuantizationUnit(cfg.Source.Device.GetQuantizationUnit())

	latest := &queue.Latest{}
	q.AddListener(latest)
	if reportEvery > 0 {
		q.AddListener(newDepthReporter(cal, reportEvery))
	}

	if dir := cfg.GetRecordDir(); dir != "" {
		rec, err := recorder.New(dir, cfg.Source.Device.GetBinning(), deviceName(cfg.Source))
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("failed to finish recording %s: %v", rec.Path(), err)
			}
		}()
		q.AddListener(rec)
		log.Printf("recording frames to %s", rec.Path())
	}

	var hub *stream.Hub
	if cfg.GetListen() != "" {
		hub = stream.NewHub(cal.QuantizationUnit())
		defer hub.Close()
		q.AddListener(hub)
	}

	src.SetStrategy(queue.NewEnqueuer(q))
	if live, ok := src.(*source.Live); ok {
		live.OnClosed(func(err error) {
			log.Printf("sensor %s disconnected: %v", live.Path(), err)
			cancel()
		})
		live.OnQuantizationUnit(func(unit int) {
			cal.SetQuantizationUnit(unit)
			if hub != nil {
				hub.SetQuantizationUnit(unit)
			}
		})
	}

	if err := src.Initialise(ctx); err != nil {
		src.Close()
		return fmt.Errorf("failed to initialise %s source: %w", kind, err)
	}
	log.Printf("%s source ready", kind)

	var wg sync.WaitGroup
	if addr := cfg.GetListen(); addr != "" {
		mux, err := newDebugMux(src, q, latest, cal, hub)
		if err != nil {
			src.Close()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, addr, mux)
		}()
	}

	runErr := src.Run(ctx)
	if live, ok := src.(*source.Live); ok && runErr == nil {
		// A disconnect cancels ctx too, so Run may have seen that first.
		runErr = live.Err()
	}
	if kind == source.KindReplay && runErr == nil {
		drainCtx, drainCancel := context.WithTimeout(ctx, drainTimeout)
		if err := q.Drain(drainCtx); err != nil {
			log.Printf("replay finished with frames still queued: %v", err)
		}
		drainCancel()
	}

	if err := src.Close(); err != nil {
		log.Printf("failed to close %s source: %v", kind, err)
	}
	q.Stop()
	cancel()
	wg.Wait()

	logSummary(src, q)
	return runErr
}

func deviceName(cfg config.SourceConfig) string {
	switch source.KindOf(cfg) {
	case source.KindReplay:
		return cfg.GetLogFile()
	case source.KindSimulated:
		return "simulator"
	}
	if p := cfg.GetPort(); p != "" {
		return p
	}
	return "auto"
}

func logSummary(src source.Source, q *queue.Queue) {
	qs := q.Stats()
	log.Printf("queue: %d enqueued, %d delivered, %d overflowed, %d discarded",
		qs.Enqueued, qs.Delivered, qs.Overflowed, qs.Discarded)
	switch s := src.(type) {
	case *source.Live:
		ds := s.Stats()
		log.Printf("sensor: %d frames, %d dropped", ds.Frames, ds.Dropped)
	case *logreader.Reader:
		rs := s.Stats()
		log.Printf("replay: %d records, %d skipped", rs.Records, rs.Skipped)
	}
}
