// Package roles implements the Admin / CGP / Client role hierarchy and the
// referral linkage between CGPs and their clients. The registry is an
// in-memory, single-writer structure: every mutating call validates under the
// lock and either applies completely or leaves no trace.
package roles

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// clientRecord tracks a client's referral slot. Removal is a soft delete:
// the CGP link survives for audit.
type clientRecord struct {
	cgp        common.Address
	active     bool
	assignedAt time.Time
}

// Registry maintains role membership and referral links. Enumeration lists
// are append-only; activity is tracked in the lookup maps, so "get all"
// queries are a single pass with no reallocation churn.
type Registry struct {
	mu sync.RWMutex

	admins    map[common.Address]bool
	adminList []common.Address

	cgps    map[common.Address]bool
	cgpList []common.Address

	clients    map[common.Address]*clientRecord
	clientList []common.Address
	cgpClients map[common.Address][]common.Address

	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry with the deployer as bootstrap admin. The
// bus and audit store may be nil (pure in-memory operation, used in tests).
func NewRegistry(deployer common.Address, bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		admins:     make(map[common.Address]bool),
		cgps:       make(map[common.Address]bool),
		clients:    make(map[common.Address]*clientRecord),
		cgpClients: make(map[common.Address][]common.Address),
		bus:        bus,
		audit:      audit,
		logger:     logger.With(slog.String("component", "roles")),
		now:        time.Now,
	}
	r.admins[deployer] = true
	r.adminList = append(r.adminList, deployer)
	return r
}

// SetClock overrides the registry clock. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// AddAdmin grants the admin role to account. Admin-only.
func (r *Registry) AddAdmin(ctx context.Context, caller, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.admins[caller] {
		return domain.ErrNotAdmin
	}
	if account == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if r.admins[account] {
		return domain.ErrRoleConflict
	}

	r.admins[account] = true
	r.adminList = appendOnce(r.adminList, account)

	r.emit(ctx, domain.ChannelRoles, domain.EventAdminAdded, map[string]any{
		"account": account.Hex(),
		"by":      caller.Hex(),
	})
	return nil
}

// RemoveAdmin revokes the admin role. Admin-only; self-removal is forbidden
// so at least one admin always remains.
func (r *Registry) RemoveAdmin(ctx context.Context, caller, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.admins[caller] {
		return domain.ErrNotAdmin
	}
	if account == caller {
		return domain.ErrSelfTarget
	}
	if !r.admins[account] {
		return domain.ErrRoleNotHeld
	}

	delete(r.admins, account)

	r.emit(ctx, domain.ChannelRoles, domain.EventAdminRemoved, map[string]any{
		"account": account.Hex(),
		"by":      caller.Hex(),
	})
	return nil
}

// AddCGP grants the CGP (referrer) role. Admin-only.
func (r *Registry) AddCGP(ctx context.Context, caller, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.admins[caller] {
		return domain.ErrNotAdmin
	}
	if account == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if r.cgps[account] {
		return domain.ErrRoleConflict
	}

	r.cgps[account] = true
	r.cgpList = appendOnce(r.cgpList, account)

	r.emit(ctx, domain.ChannelRoles, domain.EventCGPAdded, map[string]any{
		"account": account.Hex(),
		"by":      caller.Hex(),
	})
	return nil
}

// RemoveCGP revokes the CGP role. Admin-only; fails while the CGP still has
// active clients.
func (r *Registry) RemoveCGP(ctx context.Context, caller, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.admins[caller] {
		return domain.ErrNotAdmin
	}
	if !r.cgps[account] {
		return domain.ErrRoleNotHeld
	}
	if r.activeClientCount(account) > 0 {
		return domain.ErrHasClients
	}

	delete(r.cgps, account)

	r.emit(ctx, domain.ChannelRoles, domain.EventCGPRemoved, map[string]any{
		"account": account.Hex(),
		"by":      caller.Hex(),
	})
	return nil
}

// AddClient onboards account as the caller's client. CGP-only. A CGP cannot
// occupy a client slot, its own or another referrer's. An address that
// already has an active CGP cannot be onboarded again; a soft-deleted client
// may be re-onboarded by any CGP.
func (r *Registry) AddClient(ctx context.Context, caller, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cgps[caller] {
		return domain.ErrNotCGP
	}
	if account == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if account == caller {
		return domain.ErrSelfReferral
	}
	if r.cgps[account] {
		return domain.ErrRoleConflict
	}
	if rec, ok := r.clients[account]; ok && rec.active {
		return domain.ErrHasCGP
	}

	r.clients[account] = &clientRecord{
		cgp:        caller,
		active:     true,
		assignedAt: r.now().UTC(),
	}
	r.clientList = appendOnce(r.clientList, account)
	r.cgpClients[caller] = appendOnce(r.cgpClients[caller], account)

	r.emit(ctx, domain.ChannelRoles, domain.EventClientAdded, map[string]any{
		"account": account.Hex(),
		"cgp":     caller.Hex(),
	})
	return nil
}

// RemoveClient soft-deletes the client. Only the client's own CGP may remove
// it; the referral link is retained for audit.
func (r *Registry) RemoveClient(ctx context.Context, caller, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cgps[caller] {
		return domain.ErrNotCGP
	}
	rec, ok := r.clients[account]
	if !ok || !rec.active {
		return domain.ErrNotAClient
	}
	if rec.cgp != caller {
		return domain.ErrNotClientsCGP
	}

	rec.active = false

	r.emit(ctx, domain.ChannelRoles, domain.EventClientRemoved, map[string]any{
		"account": account.Hex(),
		"cgp":     caller.Hex(),
	})
	return nil
}

// IsAdmin reports whether account currently holds the admin role.
func (r *Registry) IsAdmin(account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[account]
}

// IsCGP reports whether account currently holds the CGP role.
func (r *Registry) IsCGP(account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cgps[account]
}

// IsClient reports whether account is an active client.
func (r *Registry) IsClient(account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[account]
	return ok && rec.active
}

// GetRoles returns the canonical role label with precedence
// ADMIN > CGP > CLIENT > NO_ROLE.
func (r *Registry) GetRoles(account common.Address) domain.RoleLabel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch {
	case r.admins[account]:
		return domain.RoleAdmin
	case r.cgps[account]:
		return domain.RoleCGP
	default:
		if rec, ok := r.clients[account]; ok && rec.active {
			return domain.RoleClient
		}
		return domain.RoleNone
	}
}

// GetAllRoles returns each role bit independently.
func (r *Registry) GetAllRoles(account common.Address) domain.RoleBits {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.clients[account]
	return domain.RoleBits{
		Admin:  r.admins[account],
		CGP:    r.cgps[account],
		Client: ok && rec.active,
	}
}

// GetAllAdmins returns all current admins in grant order.
func (r *Registry) GetAllAdmins() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, len(r.admins))
	for _, a := range r.adminList {
		if r.admins[a] {
			out = append(out, a)
		}
	}
	return out
}

// GetAllCGPs returns all current CGPs in grant order.
func (r *Registry) GetAllCGPs() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, len(r.cgps))
	for _, a := range r.cgpList {
		if r.cgps[a] {
			out = append(out, a)
		}
	}
	return out
}

// GetAllClients returns every client ever onboarded, in onboarding order,
// including soft-deleted ones (Active=false).
func (r *Registry) GetAllClients() []domain.ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ClientInfo, 0, len(r.clientList))
	for _, a := range r.clientList {
		rec := r.clients[a]
		out = append(out, domain.ClientInfo{
			Address:        a,
			CGP:            rec.cgp,
			Active:         rec.active,
			AssignmentDate: rec.assignedAt,
		})
	}
	return out
}

// GetCGPClients returns the addresses ever onboarded by the given CGP,
// including soft-deleted ones. Fails if the address is not a CGP.
func (r *Registry) GetCGPClients(cgp common.Address) ([]common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.cgps[cgp] {
		return nil, domain.ErrNotACGP
	}
	out := make([]common.Address, len(r.cgpClients[cgp]))
	copy(out, r.cgpClients[cgp])
	return out, nil
}

// GetCGPStats returns the client book summary for the given CGP.
func (r *Registry) GetCGPStats(cgp common.Address) (domain.CGPStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.cgps[cgp] {
		return domain.CGPStats{}, domain.ErrNotACGP
	}
	clients := make([]common.Address, len(r.cgpClients[cgp]))
	copy(clients, r.cgpClients[cgp])

	return domain.CGPStats{
		Clients:       clients,
		ClientCount:   len(clients),
		ActiveClients: r.activeClientCount(cgp),
	}, nil
}

// GetClientCGP returns the CGP assigned to an active client.
func (r *Registry) GetClientCGP(client common.Address) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.clients[client]
	if !ok || !rec.active {
		return common.Address{}, domain.ErrNotAClient
	}
	return rec.cgp, nil
}

// GetClientInfo returns the referral record for a client, active or not.
func (r *Registry) GetClientInfo(client common.Address) (domain.ClientInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.clients[client]
	if !ok {
		return domain.ClientInfo{}, domain.ErrNotAClient
	}
	return domain.ClientInfo{
		Address:        client,
		CGP:            rec.cgp,
		Active:         rec.active,
		AssignmentDate: rec.assignedAt,
	}, nil
}

// activeClientCount counts clients currently assigned and active for cgp.
// Caller must hold the lock.
func (r *Registry) activeClientCount(cgp common.Address) int {
	n := 0
	for _, a := range r.cgpClients[cgp] {
		if rec, ok := r.clients[a]; ok && rec.active && rec.cgp == cgp {
			n++
		}
	}
	return n
}

// emit publishes the event on the signal bus and records it in the audit
// log. Delivery failures are logged, never surfaced: the state change has
// already committed.
func (r *Registry) emit(ctx context.Context, channel, name string, fields map[string]any) {
	evt := domain.NewEvent(name, r.now().UTC(), fields)

	if r.bus != nil {
		if err := r.bus.Publish(ctx, channel, evt.Marshal()); err != nil {
			r.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.audit != nil {
		if err := r.audit.Log(ctx, name, fields); err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// appendOnce appends addr to list unless it is already present.
func appendOnce(list []common.Address, addr common.Address) []common.Address {
	for _, a := range list {
		if a == addr {
			return list
		}
	}
	return append(list, addr)
}
