package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// RoleService defines the registry methods the role handler requires.
type RoleService interface {
	AddAdmin(ctx context.Context, caller, account common.Address) error
	RemoveAdmin(ctx context.Context, caller, account common.Address) error
	AddCGP(ctx context.Context, caller, account common.Address) error
	RemoveCGP(ctx context.Context, caller, account common.Address) error
	AddClient(ctx context.Context, caller, account common.Address) error
	RemoveClient(ctx context.Context, caller, account common.Address) error
	GetRoles(account common.Address) domain.RoleLabel
	GetAllRoles(account common.Address) domain.RoleBits
	GetAllAdmins() []common.Address
	GetAllCGPs() []common.Address
	GetAllClients() []domain.ClientInfo
	GetCGPClients(cgp common.Address) ([]common.Address, error)
	GetCGPStats(cgp common.Address) (domain.CGPStats, error)
	GetClientInfo(client common.Address) (domain.ClientInfo, error)
}

// RoleHandler serves role grant, revoke, and query endpoints.
type RoleHandler struct {
	roles  RoleService
	logger *slog.Logger
}

// NewRoleHandler creates a RoleHandler with the given service and logger.
func NewRoleHandler(roles RoleService, logger *slog.Logger) *RoleHandler {
	return &RoleHandler{
		roles:  roles,
		logger: logger,
	}
}

type roleRequest struct {
	Account string `json:"account"`
}

// mutateRole runs one grant or revoke operation with shared parsing and logging.
func (h *RoleHandler) mutateRole(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, caller, account common.Address) error) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, ok := parseAddress(w, req.Account)
	if !ok {
		return
	}

	if err := fn(r.Context(), caller, account); err != nil {
		h.logger.WarnContext(r.Context(), "handler: role change rejected",
			slog.String("op", op),
			slog.String("caller", caller.Hex()),
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rolesResponse{
		Account: account.Hex(),
		Roles:   h.roles.GetAllRoles(account),
		Label:   h.roles.GetRoles(account),
	})
}

// AddAdmin grants the admin role.
// POST /api/roles/admins
func (h *RoleHandler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, "add_admin", h.roles.AddAdmin)
}

// RemoveAdmin revokes the admin role.
// DELETE /api/roles/admins
func (h *RoleHandler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, "remove_admin", h.roles.RemoveAdmin)
}

// AddCGP grants the referrer role.
// POST /api/roles/cgps
func (h *RoleHandler) AddCGP(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, "add_cgp", h.roles.AddCGP)
}

// RemoveCGP revokes the referrer role.
// DELETE /api/roles/cgps
func (h *RoleHandler) RemoveCGP(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, "remove_cgp", h.roles.RemoveCGP)
}

// AddClient registers a client under the calling CGP.
// POST /api/roles/clients
func (h *RoleHandler) AddClient(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, "add_client", h.roles.AddClient)
}

// RemoveClient removes a client of the calling CGP.
// DELETE /api/roles/clients
func (h *RoleHandler) RemoveClient(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, "remove_client", h.roles.RemoveClient)
}

type rolesResponse struct {
	Account string           `json:"account"`
	Roles   domain.RoleBits  `json:"roles"`
	Label   domain.RoleLabel `json:"label"`
}

// Roles returns every role held by an account.
// GET /api/roles/{address}
func (h *RoleHandler) Roles(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, pathParam(r, "address"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rolesResponse{
		Account: account.Hex(),
		Roles:   h.roles.GetAllRoles(account),
		Label:   h.roles.GetRoles(account),
	})
}

type addressListResponse struct {
	Accounts []string `json:"accounts"`
	Count    int      `json:"count"`
}

func hexList(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out
}

// Admins returns all admin accounts.
// GET /api/roles/admins
func (h *RoleHandler) Admins(w http.ResponseWriter, r *http.Request) {
	accounts := hexList(h.roles.GetAllAdmins())
	writeJSON(w, http.StatusOK, addressListResponse{Accounts: accounts, Count: len(accounts)})
}

// CGPs returns all referrer accounts.
// GET /api/roles/cgps
func (h *RoleHandler) CGPs(w http.ResponseWriter, r *http.Request) {
	accounts := hexList(h.roles.GetAllCGPs())
	writeJSON(w, http.StatusOK, addressListResponse{Accounts: accounts, Count: len(accounts)})
}

type clientListResponse struct {
	Clients []domain.ClientInfo `json:"clients"`
	Count   int                 `json:"count"`
}

// Clients returns every registered client with its referrer.
// GET /api/roles/clients
func (h *RoleHandler) Clients(w http.ResponseWriter, r *http.Request) {
	clients := h.roles.GetAllClients()
	if clients == nil {
		clients = []domain.ClientInfo{}
	}
	writeJSON(w, http.StatusOK, clientListResponse{Clients: clients, Count: len(clients)})
}

// CGPClients returns the client list of one referrer.
// GET /api/roles/cgps/{address}/clients
func (h *RoleHandler) CGPClients(w http.ResponseWriter, r *http.Request) {
	cgp, ok := parseAddress(w, pathParam(r, "address"))
	if !ok {
		return
	}

	clients, err := h.roles.GetCGPClients(cgp)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	accounts := hexList(clients)
	writeJSON(w, http.StatusOK, addressListResponse{Accounts: accounts, Count: len(accounts)})
}

// CGPStats returns aggregate referral stats for one referrer.
// GET /api/roles/cgps/{address}/stats
func (h *RoleHandler) CGPStats(w http.ResponseWriter, r *http.Request) {
	cgp, ok := parseAddress(w, pathParam(r, "address"))
	if !ok {
		return
	}

	stats, err := h.roles.GetCGPStats(cgp)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ClientInfo returns one client's registration record.
// GET /api/roles/clients/{address}
func (h *RoleHandler) ClientInfo(w http.ResponseWriter, r *http.Request) {
	client, ok := parseAddress(w, pathParam(r, "address"))
	if !ok {
		return
	}

	info, err := h.roles.GetClientInfo(client)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}
