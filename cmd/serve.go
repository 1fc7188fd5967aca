package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/monitoring"
	"github.com/sells-group/docgraph/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for document processing requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(env.Collector, env.Alerter, cfg.Monitoring)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(ctx, env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// processRequest is the body of POST /documents.
type processRequest struct {
	Path   string `json:"path"`
	UserID string `json:"user_id"`
	Async  bool   `json:"async"`
}

// newRouter builds the HTTP routes. ctx bounds asynchronous processing.
func newRouter(ctx context.Context, env *docEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			zap.L().Debug("http request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]string{"status": "ok", "store": "ok"}
		if err := env.Store.Ping(req.Context()); err != nil {
			status["store"] = "unavailable"
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Post("/documents", func(w http.ResponseWriter, req *http.Request) {
		var body processRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Path == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}
		pr := pipeline.Request{Path: body.Path, UserID: body.UserID}

		if body.Async {
			go func() {
				res := env.Pipeline.Process(ctx, pr)
				zap.L().Info("async processing complete",
					zap.String("document", pr.Path),
					zap.Bool("success", res.Success),
					zap.String("error", res.Error),
				)
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "path": pr.Path})
			return
		}

		res := env.Pipeline.Process(req.Context(), pr)
		code := http.StatusOK
		if !res.Success {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, res)
	})

	r.Get("/documents/{id}/graph", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		concepts, err := env.Store.GetConceptsByDocument(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(concepts) == 0 {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		rels, err := env.Store.GetRelationshipsByDocument(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, documentGraph{DocumentID: id, Concepts: concepts, Relationships: rels})
	})

	r.Get("/documents/{id}/duplicates", func(w http.ResponseWriter, req *http.Request) {
		threshold, err := floatParam(req, "threshold", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		pairs, err := env.Dedupe.FindDuplicates(req.Context(), chi.URLParam(req, "id"), threshold)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs, "count": len(pairs)})
	})

	r.Get("/cost/savings", func(w http.ResponseWriter, req *http.Request) {
		days, err := intParam(req, "days", 30)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, env.Cost.CalculateSavings(days))
	})

	r.Get("/cache/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := env.Cache.Stats(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		hours, err := intParam(req, "hours", cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, env.Collector.Collect(hours))
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func intParam(req *http.Request, name string, def int) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, eris.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func floatParam(req *http.Request, name string, def float64) (float64, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, eris.Errorf("%s must be a number in [0, 1]", name)
	}
	return f, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
