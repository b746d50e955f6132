package ipc

import (
	"context"
	"net/http"
	"strings"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Epoch lifecycle endpoints.
	mux.HandleFunc("POST /api/v1/epoch", h.CreateEpoch)
	mux.HandleFunc("GET /api/v1/epoch/{epochID}", h.GetEpoch)
	mux.HandleFunc("POST /api/v1/epoch/{epochID}/advance", h.AdvanceEpoch)
	mux.HandleFunc("POST /api/v1/epoch/{epochID}/vote", h.VoteEpoch)
	mux.HandleFunc("POST /api/v1/epoch/{epochID}/progress", h.ReportProgress)

	// Query endpoints.
	mux.HandleFunc("GET /api/v1/epoch/{epochID}/transitions", h.ListTransitions)
	mux.HandleFunc("GET /api/v1/epoch/{epochID}/records", h.ListRecords)
	mux.HandleFunc("GET /api/v1/epoch/{epochID}/progress", h.ListProgress)
	mux.HandleFunc("GET /api/v1/epoch/{epochID}/votes", h.ListVotes)
	mux.HandleFunc("GET /api/v1/epoch/{epochID}/slices", h.ListSlices)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: corsMiddleware(mux),
	}

	return &Server{
		httpServer: srv,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// FormatListenURL turns a listen address into a browsable URL.
func FormatListenURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// corsMiddleware adds CORS headers for local tooling access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
