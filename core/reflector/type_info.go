// Package reflector derives and caches type names used to identify events on
// the wire and in handler registrations.
package reflector

import (
	"reflect"
	"sync"
)

// maxCacheSize bounds the type cache. The cache is reset when it is exceeded.
const maxCacheSize = 1024

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

// TypeInfo holds naming metadata about a reflected type.
type TypeInfo struct {
	Name      string       // fully qualified: "pkg/path.TypeName"
	ShortName string       // bare type name: "TypeName"
	Type      reflect.Type // pointer types are unwrapped
}

// IsZero reports whether ti was derived from a nil type.
func (ti TypeInfo) IsZero() bool { return ti.Type == nil }

// TypeInfoOf returns TypeInfo for the dynamic type of x.
func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

// TypeInfoFor returns TypeInfo for type parameter T.
func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType returns TypeInfo for t. Pointer types resolve to their
// element type, so *Deposited and Deposited share one entry.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{
		Name:      t.PkgPath() + "." + t.Name(),
		ShortName: t.Name(),
		Type:      t,
	}
	if t.Name() == "" {
		// unnamed types (maps, slices, anonymous structs)
		ti.Name = t.String()
		ti.ShortName = t.String()
	}

	muCache.Lock()
	defer muCache.Unlock()
	if existing, ok := cache[t]; ok {
		return existing
	}
	if len(cache) >= maxCacheSize {
		cache = make(map[reflect.Type]TypeInfo)
	}
	cache[t] = ti
	return ti
}
