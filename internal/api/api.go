// Package api exposes the ledger over a read-only HTTP surface. Every
// route is a GET; capture, evidence persistence, and retention run only
// through the command-line entry points. External consumers get
// listings, single records, integrity checks, and assembled evidence
// packages.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/internal/pack"
	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/internal/verifier"
	"github.com/tracelock/tracelock/pkg/types"
)

// Handler serves the read-only ledger API.
type Handler struct {
	ledger    *store.Ledger
	verifier  *verifier.Verifier
	assembler *pack.Assembler
	log       logger.Logger
}

// New builds the API handler and its route table.
func New(ledger *store.Ledger, v *verifier.Verifier, assembler *pack.Assembler, log logger.Logger) http.Handler {
	h := &Handler{ledger: ledger, verifier: v, assembler: assembler, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/v1/snapshots", h.listSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/v1/snapshots/{id}", h.getSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/v1/snapshots/{id}/integrity", h.snapshotIntegrity).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs", h.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/v1/drift", h.listDrift).Methods(http.MethodGet)
	r.HandleFunc("/v1/drift/{id}", h.getDrift).Methods(http.MethodGet)
	r.HandleFunc("/v1/evidence/{id}", h.getEvidence).Methods(http.MethodGet)
	r.HandleFunc("/v1/evidence/{id}/integrity", h.evidenceIntegrity).Methods(http.MethodGet)
	r.HandleFunc("/v1/evidence/{id}/verify", h.verifyEvidence).Methods(http.MethodGet)
	r.HandleFunc("/v1/evidence/{id}/pack", h.packEvidence).Methods(http.MethodGet)
	r.HandleFunc("/v1/retention", h.getRetention).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats", h.getStats).Methods(http.MethodGet)
	r.Use(h.logRequests)
	return r
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	filter := store.SnapshotFilter{Kind: types.SnapshotKind(r.URL.Query().Get("kind"))}
	page, pageSize := pagination(r)
	infos, total, err := h.ledger.ListSnapshots(r.Context(), filter, page, pageSize)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"snapshots": infos,
		"total":     total,
		"page":      page,
	})
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.GetSnapshotByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if snap == nil {
		h.notFound(w, "snapshot")
		return
	}
	h.respond(w, http.StatusOK, snap)
}

func (h *Handler) snapshotIntegrity(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.VerifySnapshotIntegrity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if result == nil {
		h.notFound(w, "snapshot")
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	runs, total, err := h.ledger.ListRuns(r.Context(), page, pageSize)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
		"page":  page,
	})
}

func (h *Handler) listDrift(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DriftFilter{
		FromSnapshotID: q.Get("from"),
		ToSnapshotID:   q.Get("to"),
		ObjectType:     q.Get("object_type"),
	}
	page, pageSize := pagination(r)
	events, total, err := h.ledger.ListDriftEvents(r.Context(), filter, page, pageSize)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"page":   page,
	})
}

func (h *Handler) getDrift(w http.ResponseWriter, r *http.Request) {
	event, err := h.ledger.GetDriftEventByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if event == nil {
		h.notFound(w, "drift event")
		return
	}
	h.respond(w, http.StatusOK, event)
}

func (h *Handler) getEvidence(w http.ResponseWriter, r *http.Request) {
	stored, err := h.ledger.LoadEvidence(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if stored == nil {
		h.notFound(w, "evidence")
		return
	}
	h.respond(w, http.StatusOK, stored)
}

func (h *Handler) evidenceIntegrity(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.VerifyEvidenceIntegrity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if result == nil {
		h.notFound(w, "evidence")
		return
	}
	h.respond(w, http.StatusOK, result)
}

// verifyEvidence runs regeneration verification. The result body is
// returned for violations too; only the verified flag and violation tag
// tell them apart, so consumers cannot miss a failure by checking the
// status code alone.
func (h *Handler) verifyEvidence(w http.ResponseWriter, r *http.Request) {
	result, err := h.verifier.Verify(r.Context(), mux.Vars(r)["id"])
	if result == nil {
		h.respondError(w, err)
		return
	}
	if result.Violation == types.ViolationMissingEvidence {
		h.notFound(w, "evidence")
		return
	}
	h.respond(w, http.StatusOK, result)
}

func (h *Handler) packEvidence(w http.ResponseWriter, r *http.Request) {
	p, err := h.assembler.Assemble(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, p)
}

func (h *Handler) getRetention(w http.ResponseWriter, r *http.Request) {
	policy, err := h.ledger.GetRetentionPolicy(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, policy)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.ledger.RecordTotals(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{
		"tenant":  h.ledger.TenantID(),
		"records": totals,
	})
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("encoding response", err)
	}
}

type errorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch ledgererr.ClassOf(err) {
	case ledgererr.ClassFormat:
		status = http.StatusBadRequest
	case ledgererr.ClassNotFound:
		status = http.StatusNotFound
	case ledgererr.ClassUpstream:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", err)
	}
	h.respond(w, status, errorBody{Code: ledgererr.CodeOf(err), Message: err.Error()})
}

func (h *Handler) notFound(w http.ResponseWriter, what string) {
	h.respond(w, http.StatusNotFound, errorBody{Message: what + " not found"})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.WithFields(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Info("request served")
	})
}

func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	return page, pageSize
}

// Serve runs the API on addr until ctx is canceled, then drains in-flight
// requests.
func Serve(ctx context.Context, addr string, handler http.Handler, log logger.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
