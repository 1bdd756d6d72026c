package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propflow/skiptrace-cli/internal/cost"
	"github.com/propflow/skiptrace-cli/internal/model"
	"github.com/propflow/skiptrace-cli/internal/schema"
	"github.com/propflow/skiptrace-cli/internal/store"
)

var servePort int

// confirmRequest is the mapping-confirmation webhook payload.
type confirmRequest struct {
	Assignments []struct {
		Index int    `json:"index"`
		Field string `json:"field"`
	} `json:"assignments"`
	Policy string   `json:"policy"`
	Tags   []string `json:"tags"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve batch progress and mapping confirmation over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		orch := newOrchestrator(st)
		calc := cost.NewCalculator(cfg.Pricing)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/batches", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			filter := store.BatchFilter{
				Status: model.BatchStatus(q.Get("status")),
				Owner:  q.Get("owner"),
				Limit:  50,
			}
			batches, err := st.ListBatches(req.Context(), filter)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, batches)
		})

		r.Route("/batches/{batchID}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				batch, err := st.GetBatch(req.Context(), chi.URLParam(req, "batchID"))
				if err != nil {
					writeError(w, http.StatusNotFound, err)
					return
				}
				writeJSON(w, http.StatusOK, batch)
			})

			r.Get("/progress", func(w http.ResponseWriter, req *http.Request) {
				progress, err := orch.Progress(req.Context(), chi.URLParam(req, "batchID"))
				if err != nil {
					writeError(w, http.StatusNotFound, err)
					return
				}
				writeJSON(w, http.StatusOK, processOutput{
					Progress: progress,
					Cost:     calc.Summarize(progress.Counts),
				})
			})

			r.Get("/results", func(w http.ResponseWriter, req *http.Request) {
				batchID := chi.URLParam(req, "batchID")
				if _, err := st.GetBatch(req.Context(), batchID); err != nil {
					writeError(w, http.StatusNotFound, err)
					return
				}
				results, err := st.GetResults(req.Context(), batchID)
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, results)
			})

			r.Post("/confirm", func(w http.ResponseWriter, req *http.Request) {
				batchID := chi.URLParam(req, "batchID")

				var body confirmRequest
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
					return
				}

				batch, err := st.GetBatch(req.Context(), batchID)
				if err != nil {
					writeError(w, http.StatusNotFound, err)
					return
				}
				if batch.Status != model.BatchStatusMapping {
					writeError(w, http.StatusConflict, eris.Errorf("batch is %s", batch.Status))
					return
				}

				mapping := batch.Mapping
				for _, a := range body.Assignments {
					field, err := parseField(a.Field)
					if err != nil {
						writeError(w, http.StatusBadRequest, err)
						return
					}
					mapping, err = schema.Assign(mapping, a.Index, field)
					if err != nil {
						writeError(w, http.StatusBadRequest, err)
						return
					}
				}
				if err := schema.Validate(mapping); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}

				policy := body.Policy
				if policy == "" {
					policy = string(model.RefreshPreferCache)
				}
				parsed, err := parsePolicy(policy)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}

				if err := st.ConfirmMapping(req.Context(), batchID, mapping, parsed, body.Tags, batch.TotalRows); err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}

				// Processing runs detached from the request, bounded by the
				// server lifetime.
				go func() {
					if _, err := orch.Run(ctx, batchID); err != nil {
						zap.L().Error("batch processing failed",
							zap.String("batch_id", batchID),
							zap.Error(err),
						)
					}
				}()

				writeJSON(w, http.StatusAccepted, map[string]string{
					"status":   "accepted",
					"batch_id": batchID,
				})
			})
		})

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
