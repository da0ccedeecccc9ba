package web

import (
	"embed"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/state"
	"github.com/halcyon-labs/yve/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

//go:embed static/*
var staticFiles embed.FS

//go:embed static/index.html
var dashboardHTML []byte

// WebServer exposes read-only vault state and operation history over HTTP.
type WebServer struct {
	router *mux.Router
	vault  *vault.Vault
	port   string
}

// NewWebServer creates a new web server instance
func NewWebServer(v *vault.Vault, port string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		vault:  v,
		port:   port,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	staticHandler := http.FileServer(http.FS(staticFiles))
	ws.router.PathPrefix("/static/").Handler(http.StripPrefix("/", staticHandler))

	ws.router.HandleFunc("/", ws.handleDashboard).Methods("GET")
	ws.router.HandleFunc("/dashboard", ws.handleDashboard).Methods("GET")
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/operations", ws.handleGetOperations).Methods("GET")
	api.HandleFunc("/operations/latest", ws.handleGetLatestOperation).Methods("GET")
	api.HandleFunc("/epochs", ws.handleGetEpochLossReports).Methods("GET")
	api.HandleFunc("/requests", ws.handleGetRequests).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and database health.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	status := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		status = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"vault": map[string]interface{}{
			"id":                   ws.vault.ID(),
			"status":               ws.vault.Status().String(),
			"needs_reconciliation": ws.vault.NeedsReconciliation(),
		},
		"database_healthy": dbHealthy,
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleDashboard serves the main dashboard HTML
func (ws *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(dashboardHTML)
}

// handleGetVaultSummary returns the vault's live accounting state. Total USD
// is best-effort: a stale valuation reports the error instead of a number.
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	summary := map[string]interface{}{
		"vault_id":             ws.vault.ID(),
		"status":               ws.vault.Status().String(),
		"needs_reconciliation": ws.vault.NeedsReconciliation(),
		"free_principal":       ws.vault.FreePrincipal().String(),
		"accrued_fees":         ws.vault.AccruedFees().String(),
		"total_shares":         ws.vault.Ledger().TotalShares().String(),
		"timestamp":            now.UTC(),
	}

	if total, err := ws.vault.TotalUSD(now); err == nil {
		summary["total_usd_value"] = total.String()
	} else {
		summary["total_usd_error"] = err.Error()
	}

	if lease, open := ws.vault.Lease(); open {
		summary["operation"] = map[string]interface{}{
			"lease_id":  lease.ID.String(),
			"opened_at": lease.OpenedAt,
			"expiry":    lease.Expiry,
		}
	}

	loss := ws.vault.LossState()
	summary["loss_tolerance"] = map[string]interface{}{
		"epoch":          loss.Epoch,
		"base_usd":       loss.CurEpochBaseUSD.String(),
		"cumulative_usd": loss.CurEpochLoss.String(),
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetOperations returns paginated operation history
func (ws *WebServer) handleGetOperations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	operations, err := state.ListOperationSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get operation snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operations")
		return
	}

	response := map[string]interface{}{
		"operations": operations,
		"count":      len(operations),
		"limit":      limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestOperation returns the most recent operation
func (ws *WebServer) handleGetLatestOperation(w http.ResponseWriter, r *http.Request) {
	snapshot, err := state.GetLatestOperationSnapshot()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get latest operation")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve latest operation")
		return
	}
	if snapshot == nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "No operations recorded")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

// handleGetEpochLossReports returns the per-epoch loss ledger
func (ws *WebServer) handleGetEpochLossReports(w http.ResponseWriter, r *http.Request) {
	reports, err := state.GetEpochLossReports(30)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get epoch loss reports")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve epoch reports")
		return
	}

	response := map[string]interface{}{
		"epochs": reports,
		"count":  len(reports),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetRequests returns the pending deposit and withdraw queues
func (ws *WebServer) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	buffer := ws.vault.Buffer()

	response := map[string]interface{}{
		"deposits":  buffer.ListDeposits(),
		"withdraws": buffer.ListWithdraws(),
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
