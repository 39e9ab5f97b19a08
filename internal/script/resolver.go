// Package script lets the lazy/eager resolve callback (spec §6
// set_resolve_callback) be backed by a small JavaScript function instead of
// Go code, using goja. This is a SUPPLEMENTED FEATURE (SPEC_FULL.md):
// nothing in spec.md requires it, but it's a natural extension of
// "user-pluggable resolver" that galago's own goja-based stub-setter
// scripting layer (internal/setters in the teacher repo) already does for
// ARM64 stub behaviour.
package script

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/zboralski/mipsld/internal/dll"
)

// Resolver wraps a goja runtime exposing a single global function,
// resolve(name, sessionID) -> number | undefined, called once per
// resolution request. Returning undefined or a non-numeric value means
// "not resolved," matching dll.ResolveFunc's (addr, ok) contract.
type Resolver struct {
	vm      *goja.Runtime
	resolve goja.Callable
}

// New compiles source (expected to define a top-level `resolve` function)
// into a fresh goja runtime.
func New(source string) (*Resolver, error) {
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("compile resolver script: %w", err)
	}

	fnVal := vm.Get("resolve")
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("resolver script must define a top-level resolve(name, sessionID) function")
	}

	return &Resolver{vm: vm, resolve: fn}, nil
}

// Callback adapts r into a dll.ResolveFunc suitable for
// dll.SetResolveCallback.
func (r *Resolver) Callback() dll.ResolveFunc {
	return func(d *dll.Descriptor, name string) (uint32, bool) {
		sessionID := ""
		if d != nil {
			sessionID = d.SessionID.String()
		}

		result, err := r.resolve(goja.Undefined(), r.vm.ToValue(name), r.vm.ToValue(sessionID))
		if err != nil {
			return 0, false
		}
		if goja.IsUndefined(result) || goja.IsNull(result) {
			return 0, false
		}
		switch result.Export().(type) {
		case int64, float64:
		default:
			return 0, false
		}

		n := result.ToInteger()
		if n < 0 || n > 0xFFFFFFFF {
			return 0, false
		}
		return uint32(n), true
	}
}
