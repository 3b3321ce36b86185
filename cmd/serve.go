package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadforge/internal/lead"
	"github.com/sells-group/leadforge/internal/model"
	"github.com/sells-group/leadforge/internal/queue"
	"github.com/sells-group/leadforge/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lead intake HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(env.Leads, env.Queue)
		return startServer(ctx, router, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer runs the HTTP server until the context is cancelled, then
// shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// enqueuer is the slice of the queue the API needs: enrichment kicks off
// asynchronously after intake. May be nil (enqueue skipped).
type enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// buildRouter wires the lead API routes.
func buildRouter(leads *lead.Service, tasks enqueuer) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/leads", func(r chi.Router) {
		r.Post("/", handleCreateLead(leads, tasks))
		r.Get("/", handleListLeads(leads))
		r.Get("/{id}", handleGetLead(leads))
		r.Get("/{id}/events", handleListEvents(leads))
		r.Patch("/{id}/status", handleUpdateStatus(leads))
		r.Post("/{id}/notes", handleAddNote(leads))
		r.Delete("/{id}", handleDeleteLead(leads))
	})

	return r
}

func handleCreateLead(leads *lead.Service, tasks enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in lead.CreateInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if in.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}

		created, err := leads.Create(r.Context(), in)
		if err != nil {
			switch {
			case errors.Is(err, lead.ErrAlreadyExists):
				writeError(w, http.StatusConflict, "lead already exists")
			case isInvalidEmail(err):
				writeError(w, http.StatusBadRequest, "invalid email")
			default:
				zap.L().Error("create lead", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		if tasks != nil {
			if _, err := tasks.Enqueue(r.Context(), queue.NewTask(queue.KindEnrich, created.ID)); err != nil {
				// intake already committed; enrichment catches up via reclaim
				zap.L().Warn("enqueue enrichment", zap.Int64("lead_id", created.ID), zap.Error(err))
			}
		}

		writeJSON(w, http.StatusCreated, created)
	}
}

func handleListLeads(leads *lead.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.LeadFilter{
			Status: model.LeadStatus(q.Get("status")),
			Source: model.LeadSource(q.Get("source")),
			Search: q.Get("search"),
		}
		filter.Limit, _ = strconv.Atoi(q.Get("limit"))
		filter.Offset, _ = strconv.Atoi(q.Get("offset"))

		items, total, err := leads.List(r.Context(), filter)
		if err != nil {
			zap.L().Error("list leads", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if items == nil {
			items = []model.Lead{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"leads": items, "total": total})
	}
}

func handleGetLead(leads *lead.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		got, err := leads.Get(r.Context(), id)
		if err != nil {
			respondLeadError(w, err, "get lead")
			return
		}
		writeJSON(w, http.StatusOK, got)
	}
}

func handleListEvents(leads *lead.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		events, err := leads.Events(r.Context(), id)
		if err != nil {
			respondLeadError(w, err, "list events")
			return
		}
		if events == nil {
			events = []model.LeadEvent{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

func handleUpdateStatus(leads *lead.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req struct {
			Status model.LeadStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		if err := leads.UpdateStatus(r.Context(), id, req.Status); err != nil {
			respondLeadError(w, err, "update status")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
	}
}

func handleAddNote(leads *lead.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req struct {
			Note string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := leads.AddNote(r.Context(), id, req.Note); err != nil {
			respondLeadError(w, err, "add note")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteLead(leads *lead.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := leads.Delete(r.Context(), id); err != nil {
			respondLeadError(w, err, "delete lead")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid lead id")
		return 0, false
	}
	return id, true
}

func respondLeadError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, lead.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	zap.L().Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func isInvalidEmail(err error) bool {
	return err != nil && strings.Contains(err.Error(), "invalid email")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
