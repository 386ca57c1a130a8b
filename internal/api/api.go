// Package api serves the persisted datasets over read-only HTTP endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/dataset"
	"github.com/sells-group/boletin-cli/internal/model"
)

// Source is the read side of the dataset store.
type Source interface {
	ListDates() ([]string, error)
	LoadDataset(date string) (*model.DailyDataset, error)
	LoadPending(date string) (*model.PendingState, error)
}

// DatasetSummary is one entry of the dataset listing.
type DatasetSummary struct {
	Date            string  `json:"fecha"`
	BulletinNumber  string  `json:"numero"`
	TotalNorms      int     `json:"total_normas"`
	Classified      int     `json:"clasificadas"`
	Expenditures    int     `json:"gastos"`
	NonExpenditures int     `json:"sin_monto"`
	Tenders         int     `json:"licitaciones"`
	TotalAmount     float64 `json:"monto_total"`
	Pending         bool    `json:"pendiente"`
}

// PendingResponse reports the sidecar for a date.
type PendingResponse struct {
	Date    string              `json:"fecha"`
	Pending bool                `json:"pendiente"`
	State   *model.PendingState `json:"estado,omitempty"`
}

// Server exposes datasets over HTTP.
type Server struct {
	src Source
}

// NewServer creates a Server reading from src.
func NewServer(src Source) *Server {
	return &Server{src: src}
}

// Handler returns the router with CORS enabled for GET requests from any origin.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/datasets", func(r chi.Router) {
		r.Get("/", s.listDatasets)
		r.Get("/{date}", s.getDataset)
		r.Get("/{date}/pending", s.getPending)
	})
	return r
}

func (s *Server) listDatasets(w http.ResponseWriter, _ *http.Request) {
	dates, err := s.src.ListDates()
	if err != nil {
		zap.L().Error("api: list dates", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list datasets")
		return
	}

	out := make([]DatasetSummary, 0, len(dates))
	for i := len(dates) - 1; i >= 0; i-- {
		ds, err := s.src.LoadDataset(dates[i])
		if err != nil || ds == nil {
			zap.L().Warn("api: skipping unreadable dataset", zap.String("date", dates[i]), zap.Error(err))
			continue
		}
		p, err := s.src.LoadPending(dates[i])
		if err != nil {
			zap.L().Warn("api: unreadable sidecar", zap.String("date", dates[i]), zap.Error(err))
		}
		out = append(out, Summarize(ds, p != nil || err != nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	ds, err := s.src.LoadDataset(date)
	switch {
	case errors.Is(err, dataset.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "date must be yyyy-mm-dd")
	case err != nil:
		zap.L().Error("api: load dataset", zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load dataset")
	case ds == nil:
		writeError(w, http.StatusNotFound, "dataset not found")
	default:
		writeJSON(w, http.StatusOK, ds)
	}
}

func (s *Server) getPending(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	p, err := s.src.LoadPending(date)
	switch {
	case errors.Is(err, dataset.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "date must be yyyy-mm-dd")
	case err != nil:
		zap.L().Error("api: load pending", zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load pending state")
	default:
		writeJSON(w, http.StatusOK, PendingResponse{Date: date, Pending: p != nil, State: p})
	}
}

// Summarize condenses a dataset into its listing entry.
func Summarize(ds *model.DailyDataset, pending bool) DatasetSummary {
	return DatasetSummary{
		Date:            ds.Date,
		BulletinNumber:  ds.BulletinNumber,
		TotalNorms:      ds.TotalNorms,
		Classified:      ds.ClassifiedCount(),
		Expenditures:    len(ds.Expenditures),
		NonExpenditures: len(ds.NonExpenditures) + len(ds.OverflowURLs),
		Tenders:         len(ds.Tenders),
		TotalAmount:     ds.TotalAmount(),
		Pending:         pending,
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
