package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/tofcam/internal/calibration"
	"github.com/banshee-data/tofcam/internal/httputil"
	"github.com/banshee-data/tofcam/internal/queue"
	"github.com/banshee-data/tofcam/internal/source"
	"github.com/banshee-data/tofcam/internal/stream"
	"github.com/banshee-data/tofcam/internal/version"
)

// latestFrame is the JSON body of /debug/latest.
type latestFrame struct {
	Seq    uint64            `json:"seq"`
	Rows   int               `json:"rows"`
	Cols   int               `json:"cols"`
	Depth  calibration.Stats `json:"depth"`
	Points int               `json:"points"`
}

// newDebugMux builds the debug pages: queue counters, the latest frame and,
// for a sensor source, the serial console. Viewers stream frames from
// /frames.
func newDebugMux(src source.Source, q *queue.Queue, latest *queue.Latest, cal *calibration.Calibration, hub *stream.Hub) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle("/frames", hub)
	debug := tsweb.Debugger(mux)
	debug.KV("version", version.String())
	debug.KVFunc("frames enqueued", func() any { return q.Stats().Enqueued })
	debug.KVFunc("frames delivered", func() any { return q.Stats().Delivered })
	debug.KVFunc("frames overflowed", func() any { return q.Stats().Overflowed })
	debug.KVFunc("latest frame", func() any { return latest.Seq() })
	debug.KVFunc("stream viewers", func() any { return hub.Stats().Clients })
	debug.KVFunc("stream frames skipped", func() any { return hub.Stats().Skipped })
	debug.HandleSilentFunc("latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		f, ok := latest.Load()
		if !ok {
			httputil.NotFound(w, "no frame yet")
			return
		}
		body := latestFrame{
			Seq:    latest.Seq(),
			Rows:   f.Rows(),
			Cols:   f.Cols(),
			Depth:  cal.Adapt(f).Stats(),
			Points: len(cal.ImageToPointCloud(f)),
		}
		httputil.WriteJSONOK(w, body)
	})

	if live, ok := src.(*source.Live); ok {
		if err := live.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// serveDebug serves handler on addr until ctx ends.
func serveDebug(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()
	log.Printf("debug pages on http://%s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}
