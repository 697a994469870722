package permission

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("registry frozen")
	// ErrDuplicatePermission is returned when a name is registered twice.
	ErrDuplicatePermission = errors.New("permission already registered")
	// ErrPermissionLimit is returned when every non-root bit is taken.
	ErrPermissionLimit = errors.New("permission limit exceeded (root bit reserved)")
)

// Registry maps permission names to bit positions within a [Mask] and keeps
// the definition metadata (category, description, system flag) next to it.
//
// Bit positions are assigned in registration order and are stable for the
// lifetime of the process.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	defs      map[string]Definition
	frozen    bool
}

// NewRegistry creates an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
		defs:      make(map[string]Definition),
	}
}

// NewCatalogRegistry returns a registry pre-loaded with [Catalog]. It is not
// frozen, so storage-defined permissions can be added before [Registry.Freeze].
func NewCatalogRegistry() *Registry {
	r := NewRegistry()
	for _, def := range catalog {
		// catalog names are unique and fit well below RootBit
		_, _ = r.Register(def)
	}
	return r
}

// Register assigns the next available bit to the permission.
// Returns the assigned bit index. Must be called before [Registry.Freeze].
func (r *Registry) Register(def Definition) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrRegistryFrozen
	}

	if def.Name == "" {
		return -1, errors.New("permission name cannot be empty")
	}

	if _, exists := r.nameToBit[def.Name]; exists {
		return -1, ErrDuplicatePermission
	}

	nextBit := len(r.nameToBit)
	if nextBit >= RootBit {
		return -1, ErrPermissionLimit
	}

	r.nameToBit[def.Name] = nextBit
	r.bitToName[nextBit] = def.Name
	r.defs[def.Name] = def

	return nextBit, nil
}

// Bit returns the bit index for the named permission, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Definition returns the metadata registered for name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Definitions returns every registered definition in bit order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bitsInUse := make([]int, 0, len(r.bitToName))
	for bit := range r.bitToName {
		bitsInUse = append(bitsInUse, bit)
	}
	sort.Ints(bitsInUse)

	out := make([]Definition, 0, len(bitsInUse))
	for _, bit := range bitsInUse {
		out = append(out, r.defs[r.bitToName[bit]])
	}
	return out
}

// MaskOf builds a mask from permission names. Unknown names are returned in
// the second result and leave the mask untouched.
func (r *Registry) MaskOf(names []string) (Mask, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		mask    Mask
		unknown []string
	)
	for _, name := range names {
		bit, ok := r.nameToBit[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		mask.Set(bit)
	}
	return mask, unknown
}

// All returns a mask with every registered permission set. The root bit is
// not included.
func (r *Registry) All() Mask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var mask Mask
	for bit := range r.bitToName {
		mask.Set(bit)
	}
	return mask
}

// Names expands a mask into sorted permission names. A root mask expands to
// every registered name.
func (r *Registry) Names(mask Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.bitToName))
	for bit, name := range r.bitToName {
		if mask.Has(bit) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further registrations. Must be called before the
// registry is used for resolution.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether [Registry.Freeze] was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}
