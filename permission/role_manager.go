package permission

import (
	"errors"
	"sync"
)

// Built-in permission names.
const (
	OrdersRead    = "orders:read"
	OrdersCreate  = "orders:create"
	OrdersFulfil  = "orders:fulfil"
	ProductsWrite = "products:write"
	ProfileWrite  = "profile:write"
	VendorsRead   = "vendors:read"
	VendorsManage = "vendors:manage"
	ReportsRead   = "reports:read"
	UsersManage   = "users:manage"
)

// DefaultCatalogue is the role to permission mapping installed by
// NewDefaultRoleManager. admin receives every registered permission.
var DefaultCatalogue = map[string][]string{
	"user":    {OrdersRead, OrdersCreate, ProfileWrite},
	"vendor":  {ProductsWrite, OrdersRead, OrdersFulfil, ProfileWrite},
	"manager": {OrdersRead, OrdersFulfil, VendorsRead, ReportsRead},
}

// RoleManager resolves a role name to its permission set. Unknown roles
// resolve to the empty set.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask
	frozen bool
}

// NewRoleManager returns a manager backed by registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// NewDefaultRoleManager registers the built-in permissions, installs
// DefaultCatalogue plus an all-permissions admin role and freezes both the
// registry and the manager.
func NewDefaultRoleManager() (*RoleManager, error) {
	registry := NewRegistry()
	all := []string{
		OrdersRead, OrdersCreate, OrdersFulfil, ProductsWrite, ProfileWrite,
		VendorsRead, VendorsManage, ReportsRead, UsersManage,
	}
	for _, name := range all {
		if _, err := registry.Register(name); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	rm := NewRoleManager(registry)
	for role, perms := range DefaultCatalogue {
		if err := rm.RegisterRole(role, perms); err != nil {
			return nil, err
		}
	}
	if err := rm.RegisterRole("admin", all); err != nil {
		return nil, err
	}
	rm.Freeze()
	return rm, nil
}

// RegisterRole stores the permission set for roleName. Every permission must
// already be registered.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered")
	}

	var mask Mask
	for _, perm := range permissionNames {
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return errors.Join(ErrUnknown, errors.New(perm))
		}
		mask = mask.Set(bit)
	}

	rm.roles[roleName] = mask
	return nil
}

// Freeze prevents further role registration.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	rm.frozen = true
	rm.mu.Unlock()
}

// Mask returns the permission mask for role.
func (rm *RoleManager) Mask(role string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	m, ok := rm.roles[role]
	return m, ok
}

// Permissions returns the permission names for role, or an empty slice for
// unknown roles.
func (rm *RoleManager) Permissions(role string) []string {
	m, ok := rm.Mask(role)
	if !ok {
		return []string{}
	}
	return rm.registry.Names(m)
}

// Allows reports whether role carries permission.
func (rm *RoleManager) Allows(role, permission string) bool {
	m, ok := rm.Mask(role)
	if !ok {
		return false
	}
	bit, ok := rm.registry.Bit(permission)
	return ok && m.Has(bit)
}
