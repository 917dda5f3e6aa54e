package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"railscan/integrations/exports"
	"railscan/integrations/webhooks"
	"railscan/ledger"
)

// Server exposes operational endpoints and a read-only query surface over
// the ledger. All reads go through a fresh transaction that is never
// committed, so they observe the last committed block.
type Server struct {
	store    *ledger.Store
	exporter *exports.Exporter
	hooks    *webhooks.Dispatcher
	log      *slog.Logger
	router   http.Handler
}

// New builds the HTTP server. The exporter may be nil; the export trigger
// endpoint then responds 503. The dispatcher may be nil; export completions
// are then not announced.
func New(store *ledger.Store, exporter *exports.Exporter, hooks *webhooks.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, exporter: exporter, hooks: hooks, log: logger.With("component", "api")}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/status", s.Status)
		v1.Get("/rails/{id}", s.GetRail)
		v1.Get("/accounts/{address}", s.GetAccount)
		v1.Get("/accounts/{address}/tokens/{token}", s.GetUserToken)
		v1.Get("/tokens/{address}", s.GetToken)
		v1.Get("/operators/{operator}", s.GetOperator)
		v1.Get("/operators/{operator}/tokens/{token}", s.GetOperatorToken)
		v1.Get("/approvals/{client}/{operator}/{token}", s.GetApproval)
		v1.Get("/metrics/payments", s.GetPaymentsMetric)
		v1.Post("/exports", s.RunExport)
	})
	return r
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	_, _, err := s.store.Checkpoint()
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	block, ok, err := s.store.Checkpoint()
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, map[string]any{"checkpointBlock": block, "synced": ok})
}

func (s *Server) GetRail(w http.ResponseWriter, r *http.Request) {
	id, err := uint256.FromDecimal(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid rail id", http.StatusBadRequest)
		return
	}
	tx := s.store.Begin()
	rail, ok, err := tx.Rail(id)
	s.entity(w, rail, ok, err)
}

func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	tx := s.store.Begin()
	account, found, err := tx.Account(addr)
	s.entity(w, account, found, err)
}

func (s *Server) GetUserToken(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	token, ok := parseAddress(w, chi.URLParam(r, "token"))
	if !ok {
		return
	}
	tx := s.store.Begin()
	position, found, err := tx.UserToken(addr, token)
	s.entity(w, position, found, err)
}

func (s *Server) GetToken(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	tx := s.store.Begin()
	token, found, err := tx.Token(addr)
	s.entity(w, token, found, err)
}

func (s *Server) GetOperator(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, chi.URLParam(r, "operator"))
	if !ok {
		return
	}
	tx := s.store.Begin()
	operator, found, err := tx.Operator(addr)
	s.entity(w, operator, found, err)
}

func (s *Server) GetOperatorToken(w http.ResponseWriter, r *http.Request) {
	operator, ok := parseAddress(w, chi.URLParam(r, "operator"))
	if !ok {
		return
	}
	token, ok := parseAddress(w, chi.URLParam(r, "token"))
	if !ok {
		return
	}
	tx := s.store.Begin()
	ot, found, err := tx.OperatorToken(operator, token)
	s.entity(w, ot, found, err)
}

func (s *Server) GetApproval(w http.ResponseWriter, r *http.Request) {
	client, ok := parseAddress(w, chi.URLParam(r, "client"))
	if !ok {
		return
	}
	operator, ok := parseAddress(w, chi.URLParam(r, "operator"))
	if !ok {
		return
	}
	token, ok := parseAddress(w, chi.URLParam(r, "token"))
	if !ok {
		return
	}
	tx := s.store.Begin()
	approval, found, err := tx.OperatorApproval(client, operator, token)
	s.entity(w, approval, found, err)
}

func (s *Server) GetPaymentsMetric(w http.ResponseWriter, r *http.Request) {
	tx := s.store.Begin()
	metric, err := tx.PaymentsMetricOrNew()
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, metric)
}

func (s *Server) RunExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		http.Error(w, "exports disabled", http.StatusServiceUnavailable)
		return
	}
	result, err := s.exporter.Run()
	if err != nil {
		s.fail(w, err)
		return
	}
	if s.hooks != nil {
		files := make([]webhooks.ExportFile, 0, len(result.Files))
		for _, f := range result.Files {
			files = append(files, webhooks.ExportFile{Path: f.Path, Rows: f.Rows, Checksum: f.Checksum})
		}
		payload := webhooks.ExportReadyPayload{
			RunID:       result.RunID.String(),
			Files:       files,
			GeneratedAt: result.GeneratedAt,
		}
		if err := s.hooks.EnqueueExportReady(payload); err != nil {
			s.log.Error("enqueue export webhook", slog.Any("error", err))
		}
	}
	s.respond(w, result)
}

func (s *Server) entity(w http.ResponseWriter, v any, found bool, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.respond(w, v)
}

func (s *Server) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", slog.Any("error", err))
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("request failed", slog.Any("error", err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
