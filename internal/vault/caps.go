/*

Capability registry.

Privileged calls prove authority by presenting a capability token, checked
first on every entry point. No privileged path skips the check: fee
collection goes through the same gate as everything else. Freezing an
operator takes effect on that operator's next call with no grace window.

*/

package vault

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyon-labs/yve/internal/logger"
	"github.com/halcyon-labs/yve/internal/types"
)

var capsLogger = logger.GetForComponent("capabilities")

type operatorState struct {
	Address string
	Frozen  bool
}

// Capabilities tracks the admin token and all issued operator tokens.
type Capabilities struct {
	mu        sync.Mutex
	admin     uuid.UUID
	operators map[uuid.UUID]*operatorState
}

// NewCapabilities creates the registry and mints the admin capability.
func NewCapabilities() (*Capabilities, uuid.UUID) {
	admin := uuid.New()
	return &Capabilities{
		admin:     admin,
		operators: make(map[uuid.UUID]*operatorState),
	}, admin
}

// CheckAdmin validates an admin token.
func (c *Capabilities) CheckAdmin(cap uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cap != c.admin {
		return fmt.Errorf("%w: not the admin capability", types.ErrUnauthorized)
	}
	return nil
}

// CheckOperator validates an operator token and its freeze state.
func (c *Capabilities) CheckOperator(cap uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, exists := c.operators[cap]
	if !exists {
		return fmt.Errorf("%w: operator capability %s", types.ErrUnknownCapability, cap)
	}
	if state.Frozen {
		return fmt.Errorf("%w: %s", types.ErrOperatorFrozen, cap)
	}
	return nil
}

// IssueOperator mints a new operator capability for an address.
func (c *Capabilities) IssueOperator(admin uuid.UUID, address string) (uuid.UUID, error) {
	if err := c.CheckAdmin(admin); err != nil {
		return uuid.Nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cap := uuid.New()
	c.operators[cap] = &operatorState{Address: address}
	capsLogger.Info().Str("address", address).Str("capability", cap.String()).Msg("Operator capability issued")
	return cap, nil
}

// FreezeOperator freezes a capability. Effective on the operator's next call.
func (c *Capabilities) FreezeOperator(admin, cap uuid.UUID) error {
	if err := c.CheckAdmin(admin); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, exists := c.operators[cap]
	if !exists {
		return fmt.Errorf("%w: operator capability %s", types.ErrUnknownCapability, cap)
	}
	state.Frozen = true
	capsLogger.Warn().Str("capability", cap.String()).Str("address", state.Address).Msg("Operator capability frozen")
	return nil
}

// UnfreezeOperator lifts a freeze.
func (c *Capabilities) UnfreezeOperator(admin, cap uuid.UUID) error {
	if err := c.CheckAdmin(admin); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, exists := c.operators[cap]
	if !exists {
		return fmt.Errorf("%w: operator capability %s", types.ErrUnknownCapability, cap)
	}
	state.Frozen = false
	capsLogger.Info().Str("capability", cap.String()).Str("address", state.Address).Msg("Operator capability unfrozen")
	return nil
}

// OperatorAddress resolves the address behind an operator capability without
// checking the freeze flag; used for record keeping only.
func (c *Capabilities) OperatorAddress(cap uuid.UUID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, exists := c.operators[cap]
	if !exists {
		return "", fmt.Errorf("%w: operator capability %s", types.ErrUnknownCapability, cap)
	}
	return state.Address, nil
}
