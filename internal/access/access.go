// Package access holds the role table guarding privileged engine operations.
package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleInjector Role = "injector"
	RoleTreasury Role = "treasury"
)

var ErrUnauthorized = errors.New("caller is missing role")

// Control maps roles to their members.
type Control struct {
	mu      sync.RWMutex
	members map[Role]map[common.Address]struct{}
}

// NewControl returns a table with admin granted the admin role.
func NewControl(admin common.Address) *Control {
	c := &Control{members: make(map[Role]map[common.Address]struct{})}
	c.Grant(RoleAdmin, admin)
	return c
}

func (c *Control) Grant(role Role, account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[role] == nil {
		c.members[role] = make(map[common.Address]struct{})
	}
	c.members[role][account] = struct{}{}
}

func (c *Control) Revoke(role Role, account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members[role], account)
}

// Replace makes account the only member of role.
func (c *Control) Replace(role Role, account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[role] = map[common.Address]struct{}{account: {}}
}

func (c *Control) Has(role Role, account common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[role][account]
	return ok
}

// Require fails unless account holds role.
func (c *Control) Require(role Role, account common.Address) error {
	if !c.Has(role, account) {
		return fmt.Errorf("%w %s: %s", ErrUnauthorized, role, account.Hex())
	}
	return nil
}

// Member returns one member of role, if any.
func (c *Control) Member(role Role) (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for account := range c.members[role] {
		return account, true
	}
	return common.Address{}, false
}
