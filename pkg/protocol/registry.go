// Package protocol maps application message types to stable wire tags.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/zeebo/blake3"
)

var (
	// ErrRegistryBuilt is returned when registering after Build.
	ErrRegistryBuilt = errors.New("registry: already built")
	// ErrRegistryNotBuilt is returned when looking up kinds before Build.
	ErrRegistryNotBuilt = errors.New("registry: not built")
	// ErrAlreadyRegistered is returned when a type is registered twice.
	ErrAlreadyRegistered = errors.New("registry: type already registered")
	// ErrNotRegistered is returned for types or kinds the registry does not know.
	ErrNotRegistered = errors.New("registry: type not registered")
)

// MessageKind is the wire tag of a registered message type.
type MessageKind uint16

// Encode encodes the MessageKind to a 2-byte slice.
func (k MessageKind) Encode() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(k))
	return b
}

// Registry maps message types to kinds. Types are registered first, then the
// registry is built, after which it is read-only.
//
// Kinds are assigned at Build from the sorted full type names, so two
// registries holding the same set of types agree on every kind no matter
// the registration order.
type Registry struct {
	types map[reflect.Type]string
	kinds map[reflect.Type]MessageKind
	byKind []reflect.Type
	built bool

	compressAbove int
}

// NewRegistry returns an empty, unbuilt Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[reflect.Type]string)}
}

// Register adds the type of msg. Pointer types are registered as their
// element type.
func (r *Registry) Register(msg interface{}) error {
	if r.built {
		return ErrRegistryBuilt
	}
	t := typeOf(msg)
	if t == nil {
		return errors.New("registry: cannot register nil")
	}
	if _, ok := r.types[t]; ok {
		return ErrAlreadyRegistered
	}
	r.types[t] = typeName(t)
	return nil
}

// Build seals the registry and assigns kinds.
func (r *Registry) Build() error {
	if r.built {
		return ErrRegistryBuilt
	}
	if len(r.types) > 1<<16 {
		return fmt.Errorf("registry: %d types exceed the kind space", len(r.types))
	}

	r.byKind = make([]reflect.Type, 0, len(r.types))
	for t := range r.types {
		r.byKind = append(r.byKind, t)
	}
	sort.Slice(r.byKind, func(i, j int) bool {
		return r.types[r.byKind[i]] < r.types[r.byKind[j]]
	})

	r.kinds = make(map[reflect.Type]MessageKind, len(r.byKind))
	for i, t := range r.byKind {
		r.kinds[t] = MessageKind(i)
	}
	r.built = true
	return nil
}

// Built reports whether Build has been called.
func (r *Registry) Built() bool { return r.built }

// Len returns the number of registered types.
func (r *Registry) Len() int { return len(r.types) }

// Kind returns the kind of msg's type.
func (r *Registry) Kind(msg interface{}) (MessageKind, error) {
	if !r.built {
		return 0, ErrRegistryNotBuilt
	}
	k, ok := r.kinds[typeOf(msg)]
	if !ok {
		return 0, ErrNotRegistered
	}
	return k, nil
}

// Type returns the type registered under kind k.
func (r *Registry) Type(k MessageKind) (reflect.Type, error) {
	if !r.built {
		return nil, ErrRegistryNotBuilt
	}
	if int(k) >= len(r.byKind) {
		return nil, ErrNotRegistered
	}
	return r.byKind[k], nil
}

// Fingerprint digests the registered type names. Two peers whose registries
// produce the same fingerprint agree on every kind.
func (r *Registry) Fingerprint() ([32]byte, error) {
	var sum [32]byte
	if !r.built {
		return sum, ErrRegistryNotBuilt
	}
	h := blake3.New()
	for _, t := range r.byKind {
		h.Write([]byte(r.types[t])) // nolint: errcheck
		h.Write([]byte{0})          // nolint: errcheck
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func typeOf(msg interface{}) reflect.Type {
	t := reflect.TypeOf(msg)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func typeName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
