package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pooledfi/creditbill/pkg/apperrors"
	"github.com/pooledfi/creditbill/pkg/config"
	"github.com/pooledfi/creditbill/pkg/ledger"
	"github.com/pooledfi/creditbill/pkg/models"
	"github.com/pooledfi/creditbill/pkg/store"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // kept to close it on shutdown
	log     *logrus.Logger
}

func NewServer(s store.Storage, settings models.PoolSettings, fees models.FeeStructure, log *logrus.Logger) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, settings, fees, log),
		storage: s,
		log:     log,
	}
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/credits", s.listCreditsHandler).Methods("GET")
	router.HandleFunc("/credits", s.approveHandler).Methods("POST")
	router.HandleFunc("/credits/{id}", s.getCreditHandler).Methods("GET")
	router.HandleFunc("/credits/{id}/approve", s.reapproveHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/drawdown", s.drawdownHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/payments", s.makePaymentHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/refresh", s.refreshHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/close", s.closeHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/pause", s.pauseHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/unpause", s.unpauseHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/default", s.triggerDefaultHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	return router
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotInState), errors.Is(err, apperrors.ErrOutstandingObligation):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrUnauthorized):
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func creditID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func (s *Server) approveHandler(w http.ResponseWriter, r *http.Request) {
	var params ledger.ApproveParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	credit, err := s.ledger.Approve(params)
	if err != nil {
		s.log.WithError(err).Error("approve failed")
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, credit)
}

func (s *Server) reapproveHandler(w http.ResponseWriter, r *http.Request) {
	id, err := creditID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	var params ledger.ApproveParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	credit, err := s.ledger.Reapprove(id, params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credit)
}

func (s *Server) getCreditHandler(w http.ResponseWriter, r *http.Request) {
	id, err := creditID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	credit, err := s.ledger.GetCredit(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credit)
}

func (s *Server) listCreditsHandler(w http.ResponseWriter, r *http.Request) {
	credits, err := s.ledger.GetAllCredits()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) drawdownHandler(w http.ResponseWriter, r *http.Request) {
	id, err := creditID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	credit, tx, err := s.ledger.Drawdown(id, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"credit": credit, "transaction": tx})
}

func (s *Server) makePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := creditID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	credit, waterfall, err := s.ledger.MakePayment(id, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"credit": credit, "waterfall": waterfall})
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	s.creditAction(w, r, s.ledger.RefreshCredit)
}

func (s *Server) closeHandler(w http.ResponseWriter, r *http.Request) {
	s.creditAction(w, r, s.ledger.CloseCredit)
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	s.creditAction(w, r, s.ledger.PauseCredit)
}

func (s *Server) unpauseHandler(w http.ResponseWriter, r *http.Request) {
	s.creditAction(w, r, s.ledger.UnpauseCredit)
}

func (s *Server) triggerDefaultHandler(w http.ResponseWriter, r *http.Request) {
	s.creditAction(w, r, s.ledger.TriggerDefault)
}

func (s *Server) creditAction(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) (*models.Credit, error)) {
	id, err := creditID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	credit, err := fn(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credit)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := creditID(r)
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return
	}
	transactions, err := s.ledger.GetTransactions(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.NewConfig()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	settings, fees, err := config.LoadPoolSettings(cfg.PoolSettingsPath)
	if err != nil {
		log.Fatalf("Failed to load pool settings: %v", err)
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, settings, fees, log)

	// Nightly sweep keeps delinquent credits rolled forward even when no
	// borrower action touches them.
	c := cron.New()
	if _, err := c.AddFunc(cfg.RefreshCron, func() {
		log.Info("Running credit refresh sweep...")
		server.ledger.RefreshAll()
		log.Info("Credit refresh sweep complete.")
	}); err != nil {
		log.Fatalf("Failed to schedule refresh sweep: %v", err)
	}
	c.Start()
	defer c.Stop()

	addr := fmt.Sprintf(":%s", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Infof("Server starting on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
