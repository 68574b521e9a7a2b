// Package access implements the role model protecting state-changing
// ledger and coordinator operations. Roles are explicit configuration
// passed at construction - there is no ambient global role state.
package access

import (
	"crypto/subtle"
	"sync"

	"github.com/aristath/coffer/internal/domain"
)

// Roles holds the configured role keys. A role with an empty key is
// unassigned and every check against it fails. The agent key can be
// rotated at runtime while checks run on other goroutines, so reads
// and writes go through the mutex.
type Roles struct {
	mu    sync.RWMutex
	owner string
	agent string
}

// NewRoles creates the role set from configured keys.
func NewRoles(ownerKey, agentKey string) *Roles {
	return &Roles{owner: ownerKey, agent: agentKey}
}

// equal compares a presented key against a configured one in constant
// time. An unassigned role never matches.
func equal(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// IsOwner reports whether caller holds the owner role.
func (r *Roles) IsOwner(caller string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return equal(r.owner, caller)
}

// IsAgent reports whether caller holds the rebalance-authorized role.
// The owner implicitly holds the agent role.
func (r *Roles) IsAgent(caller string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return equal(r.agent, caller) || equal(r.owner, caller)
}

// RequireOwner fails with NotOwner unless caller holds the owner role.
func (r *Roles) RequireOwner(caller string) error {
	if !r.IsOwner(caller) {
		return domain.ErrNotOwner
	}
	return nil
}

// RequireAgent fails with NotAgent unless caller holds the agent or
// owner role.
func (r *Roles) RequireAgent(caller string) error {
	if !r.IsAgent(caller) {
		return domain.ErrNotAgent
	}
	return nil
}

// SetAgent designates a new rebalance-authorized key. Owner-only.
func (r *Roles) SetAgent(caller, agentKey string) error {
	if err := r.RequireOwner(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent = agentKey
	return nil
}
