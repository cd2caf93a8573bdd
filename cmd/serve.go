package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trial-tracker/internal/importer"
	"github.com/sells-group/trial-tracker/internal/ingest"
	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/ranking"
	"github.com/sells-group/trial-tracker/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compliance API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return err
		}

		proc := &importer.Processor{
			Store:            s,
			QA:               initFetcher(),
			Now:              time.Now,
			FetchConcurrency: cfg.Import.FetchConcurrency,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(s, proc),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type apiServer struct {
	store store.Store
	proc  *importer.Processor
}

func newRouter(s store.Store, proc *importer.Processor) http.Handler {
	api := &apiServer{store: s, proc: proc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/rankings", api.handleRankings)
		r.Get("/performance", api.handlePerformance)
		r.Get("/trials", api.handleTrials)
		r.Get("/imports", api.handleImports)
	})
	r.Post("/webhook/import", api.handleImportWebhook)
	return r
}

func (a *apiServer) handleRankings(w http.ResponseWriter, r *http.Request) {
	filter := store.RankingFilter{
		SponsorSlug: r.URL.Query().Get("sponsor"),
		Limit:       queryInt(r, "limit"),
		Offset:      queryInt(r, "offset"),
	}

	date, err := queryDate(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	filter.Date = date

	if filter.PercentageMin, err = queryFloat(r, "min_percentage"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.PercentageMax, err = queryFloat(r, "max_percentage"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rankings, err := a.store.ListRankings(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list rankings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, eris.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": rankings})
}

func (a *apiServer) handlePerformance(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, err := ranking.Summarize(r.Context(), a.store, date)
	if err != nil {
		zap.L().Error("api: performance summary", zap.Error(err))
		writeError(w, http.StatusInternalServerError, eris.New("internal error"))
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, eris.New("no rankings on record"))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *apiServer) handleTrials(w http.ResponseWriter, r *http.Request) {
	filter := store.TrialFilter{
		SponsorSlug: r.URL.Query().Get("sponsor"),
		Status:      model.TrialStatus(r.URL.Query().Get("status")),
		VisibleOnly: r.URL.Query().Get("all") == "",
		Limit:       queryInt(r, "limit"),
		Offset:      queryInt(r, "offset"),
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	trials, err := a.store.ListTrials(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list trials", zap.Error(err))
		writeError(w, http.StatusInternalServerError, eris.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trials": trials})
}

func (a *apiServer) handleImports(w http.ResponseWriter, r *http.Request) {
	logs, err := a.store.ListImportLogs(r.Context(), queryInt(r, "limit"))
	if err != nil {
		zap.L().Error("api: list imports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, eris.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": logs})
}

// handleImportWebhook kicks off snapshot processing and returns
// immediately; callers poll /api/imports for completion.
func (a *apiServer) handleImportWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CSVPath string `json:"csv_path"`
		Date    string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
		return
	}
	if req.CSVPath == "" {
		writeError(w, http.StatusBadRequest, eris.New("csv_path is required"))
		return
	}

	snapshotDate := time.Now().UTC()
	if req.Date != "" {
		d, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, eris.Errorf("bad date %q", req.Date))
			return
		}
		snapshotDate = d
	}

	f, err := os.Open(req.CSVPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Errorf("cannot open %s", req.CSVPath))
		return
	}
	rows, err := ingest.ReadSnapshot(f)
	f.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	go func() {
		log, err := a.proc.ProcessSnapshot(context.Background(), rows, snapshotDate)
		if err != nil {
			zap.L().Error("webhook import failed",
				zap.String("csv_path", req.CSVPath),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("webhook import complete", zap.String("import_id", log.ID))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"csv":    req.CSVPath,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func queryFloat(r *http.Request, key string) (*float64, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return nil, eris.Errorf("bad %s %q", key, val)
	}
	return &f, nil
}

func queryDate(r *http.Request, key string) (*time.Time, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation("2006-01-02", val, time.UTC)
	if err != nil {
		return nil, eris.Errorf("bad %s %q", key, val)
	}
	return &d, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
