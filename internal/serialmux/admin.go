package serialmux

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/tofcam/internal/httputil"
	"github.com/banshee-data/tofcam/internal/protocol"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// AttachAdminRoutes registers the serial console, command API, live tail and
// stats endpoints on the tsweb debug page.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("serial packets", func() any { return s.Stats().Packets })
	debug.KVFunc("serial dropped packets", func() any { return s.Stats().Dropped })

	// Basic command / live tail monitor interface using the below API endpoints.
	debug.HandleFunc("send-command", "send an AT command to the sensor", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, struct{ StatsPath string }{"stats"}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", s.handleSendCommand)
	debug.HandleSilentFunc("tail", s.handleTail)
	debug.HandleSilentFunc("stats", s.handleStats)

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}

// handleSendCommand writes a single AT command taken from the "command" form
// field and reports the device's answer.
func (s *SerialMux[T]) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimSpace(r.FormValue("command"))
	if raw == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout+time.Second)
	defer cancel()
	err = s.SendCommand(ctx, cmd)
	if hook := s.commandHook(); hook != nil {
		hook(cmd, err)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to send command: %v", err), http.StatusBadGateway)
		return
	}
	io.WriteString(w, fmt.Sprintf("Device acknowledged %q", cmd.String()))
}

// handleTail streams text lines from the serial port as Server-Sent Events.
func (s *SerialMux[T]) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.Subscribe()
	defer s.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *SerialMux[T]) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.Stats())
}
