package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mingqiu/abacus/internal/domain"
)

// orderRequest is the body for buy, sell, and target orders.
type orderRequest struct {
	Code     string `json:"code"`
	Quantity int64  `json:"quantity"`
	Target   *int64 `json:"target,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "abacus",
	})
}

// handleBuy places a market buy order
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := s.executor.Buy(req.Code, req.Quantity)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, order)
}

// handleSell places a market sell order
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := s.executor.Sell(req.Code, req.Quantity)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, order)
}

// handleRebalanceToTarget adjusts a holding to a target share count
func (s *Server) handleRebalanceToTarget(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == nil {
		s.writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	order, err := s.executor.RebalanceToTarget(req.Code, *req.Target)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	if order == nil {
		// Already at target
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"code":   req.Code,
			"target": *req.Target,
			"status": "unchanged",
		})
		return
	}

	s.writeJSON(w, http.StatusCreated, order)
}

// handlePortfolio returns the full reconstructed portfolio state
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.portfolio.GetSnapshot()
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshot)
}

// handleEquity returns cash, market value, and total equity
func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	equity, err := s.portfolio.GetTotalEquity()
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, equity)
}

// handlePositionPnL returns the P&L view for one position
func (s *Server) handlePositionPnL(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	pnl, err := s.portfolio.GetPositionPnL(code)
	if err != nil {
		var pErr *domain.PersistenceError
		if errors.As(err, &pErr) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, pnl)
}

// handleCloseable returns the settlement-eligible quantity for an instrument
func (s *Server) handleCloseable(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	closeable, err := s.portfolio.GetCloseableQuantity(code)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"code":      code,
		"closeable": closeable,
	})
}

// handleSnapshotHistory returns stored portfolio snapshots
func (s *Server) handleSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	history, err := s.snapshots.History(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, history)
}

// handleTakeSnapshot records a snapshot immediately
func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.snapshots.Take()
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, snapshot)
}

// handlePerformance returns return statistics over the snapshot history
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.snapshots.ComputePerformance()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, perf)
}

// writeOrderError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	var (
		vErr   *domain.ValidationError
		fErr   *domain.InsufficientFundsError
		posErr *domain.InsufficientPositionError
		prErr  *domain.PriceUnavailableError
		pErr   *domain.PersistenceError
	)

	switch {
	case errors.As(err, &vErr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &fErr), errors.As(err, &posErr):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &prErr):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &pErr):
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
