// Command mock-backend stands in for the node, explorer and indexer when
// running the gateway locally. Every path answers with a small JSON document
// naming the backend; /health reports ok.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	name := os.Getenv("MOCK_NAME")
	if name == "" {
		name = "explorer"
	}
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "3001"
	}
	// MOCK_FAIL_EVERY=n answers every nth request with 500 to exercise the
	// gateway's circuit breaker.
	failEvery, _ := strconv.Atoi(os.Getenv("MOCK_FAIL_EVERY"))

	var served atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": name})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := served.Add(1)
		logger.Info("received request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
		)

		if failEvery > 0 && n%int64(failEvery) == 0 {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "simulated failure"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"backend": name,
			"method":  r.Method,
			"path":    r.URL.Path,
			"time":    time.Now().Unix(),
		})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("mock backend starting", slog.String("name", name), slog.String("port", port))
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("mock backend stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
