package dwarf

import (
	"github.com/ianlancetaylor/demangle"
)

// Demangler turns a mangled linkage name into a human-readable one. It
// never errors: callers treat an empty return as "could not demangle,
// use the mangled name as-is."
type Demangler interface {
	Demangle(mangled string) string
}

// defaultDemangler wraps ianlancetaylor/demangle, which covers the
// Itanium C++ ABI, Rust's legacy and v0 manglings, and Swift — the
// name forms the resolver's target binaries actually produce.
type defaultDemangler struct{}

// NewDemangler returns the resolver's standard Demangler.
func NewDemangler() Demangler { return defaultDemangler{} }

func (defaultDemangler) Demangle(mangled string) string {
	out, err := demangle.ToString(mangled, demangle.NoParams, demangle.NoTemplateParams)
	if err != nil {
		return ""
	}
	return out
}
