package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// PositionService defines the engine methods the position handler requires.
type PositionService interface {
	GetUserPositions(account common.Address) []domain.Position
	AllPositions(index uint64) (domain.Position, error)
	PositionCount() int
	GetAllActivePositionsCount() int
}

// PositionHandler serves position query endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Count     int               `json:"count"`
}

// ListByOwner returns every position ever opened by an account.
// GET /api/positions?owner=0x...
func (h *PositionHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, r.URL.Query().Get("owner"))
	if !ok {
		return
	}

	positions := h.positions.GetUserPositions(owner)
	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: positions,
		Count:     len(positions),
	})
}

// Get returns a single position by its identifier.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, pathParam(r, "id"))
	if !ok {
		return
	}

	pos, err := h.positions.AllPositions(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

type positionCountResponse struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Count returns total and active position counts.
// GET /api/positions/count
func (h *PositionHandler) Count(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, positionCountResponse{
		Total:  h.positions.PositionCount(),
		Active: h.positions.GetAllActivePositionsCount(),
	})
}
