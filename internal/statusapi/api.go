// Package statusapi serves the renewal monitor's state over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/monitor"
)

// DefaultHistoryLimit caps GET /certificates/{subject}.
const DefaultHistoryLimit = 20

// Source is the renewal history read by the API.
type Source interface {
	Latest() ([]monitor.RenewalRecord, error)
	Recent(subject string, limit int) ([]monitor.RenewalRecord, error)
}

// API exposes health and certificate status.
type API struct {
	source Source
}

// New returns an API reading from source.
func New(source Source) *API {
	return &API{source: source}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CertificatesResponse is the body of GET /certificates.
type CertificatesResponse struct {
	Certificates []monitor.RenewalRecord `json:"certificates"`
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.Healthz)
	r.Get("/certificates", a.ListCertificates)
	r.Get("/certificates/{subject}", a.CertificateHistory)
	return r
}

// Healthz reports that the process is serving.
func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListCertificates returns the latest record per certificate, optionally
// filtered by ?kind= or ?outcome=.
func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	records, err := a.source.Latest()
	if err != nil {
		logger.Error("Reading renewal history: %v", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	kind := r.URL.Query().Get("kind")
	outcome := r.URL.Query().Get("outcome")
	out := make([]monitor.RenewalRecord, 0, len(records))
	for _, rec := range records {
		if kind != "" && string(rec.Kind) != kind {
			continue
		}
		if outcome != "" && string(rec.Outcome) != outcome {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, CertificatesResponse{Certificates: out})
}

// CertificateHistory returns recent records for one subject, newest first.
func (a *API) CertificateHistory(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := a.source.Recent(subject, limit)
	if err != nil {
		logger.Error("Reading renewal history for %s: %v", subject, err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no records for %s", subject))
		return
	}
	writeJSON(w, http.StatusOK, CertificatesResponse{Certificates: records})
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("status server failed: %w", err)
			return
		}
		done <- nil
	}()
	logger.Info("Status API listening on %s", addr)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return <-done
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
