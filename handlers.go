package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kwv/roverbrain/brain"
	"github.com/kwv/roverbrain/internal/log"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			SessionID     string    `json:"sessionId"`
			Landmarks     int       `json:"landmarks"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			SessionID:     a.Core.SessionID(),
			Landmarks:     len(a.Core.Landmarks()),
			MQTTConnected: a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.Core.Snapshot())
	})

	mux.HandleFunc("GET /landmarks", func(w http.ResponseWriter, r *http.Request) {
		landmarks := a.Core.Landmarks()
		if landmarks == nil {
			landmarks = []brain.Landmark{}
		}
		writeJSON(w, landmarks)
	})

	mux.HandleFunc("GET /landmarks.geojson", func(w http.ResponseWriter, r *http.Request) {
		fc := brain.LandmarksToGeoJSON(a.Core.Snapshot(), a.Core.Bounds())
		data, err := fc.MarshalJSON()
		if err != nil {
			http.Error(w, "Failed to encode GeoJSON", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /map.png", func(w http.ResponseWriter, r *http.Request) {
		img := brain.NewMapRenderer(a.Core.Bounds()).Render(a.Core.Snapshot())
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := brain.EncodePNG(w, img); err != nil {
			log.Warn("encoding map png", "error", err)
		}
	})

	mux.HandleFunc("GET /map.svg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := brain.NewVectorRenderer(a.Core.Bounds()).RenderToSVG(w, a.Core.Snapshot()); err != nil {
			log.Warn("rendering map svg", "error", err)
		}
	})

	mux.HandleFunc("GET /grid.png", func(w http.ResponseWriter, r *http.Request) {
		g := brain.NewGrid(a.Config.Map)
		g.Rasterize(a.Core.Landmarks())
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := brain.EncodePNG(w, brain.RenderGrid(g)); err != nil {
			log.Warn("encoding grid png", "error", err)
		}
	})

	mux.Handle("GET /metrics", a.Metrics.Handler())

	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		commandResponse(w, a, brain.Command{Command: brain.CommandReset})
	})

	mux.HandleFunc("POST /reset-tracks", func(w http.ResponseWriter, r *http.Request) {
		commandResponse(w, a, brain.Command{Command: brain.CommandResetTracks})
	})

	mux.HandleFunc("POST /kinematics", func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("mode")
		if mode == "" {
			http.Error(w, "mode query parameter is required", http.StatusBadRequest)
			return
		}
		commandResponse(w, a, brain.Command{Command: brain.CommandKinematics, Mode: brain.KinematicsMode(mode)})
	})

	return mux
}

// commandResponse applies cmd and answers with the resulting state.
func commandResponse(w http.ResponseWriter, a *App, cmd brain.Command) {
	if err := a.applyCommand(cmd); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, brain.ErrUnknownKinematics) || errors.Is(err, brain.ErrUnknownCommand) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	log.Info("command applied over http", "command", cmd.Command)
	writeJSON(w, a.Core.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encoding response", "error", err)
	}
}
