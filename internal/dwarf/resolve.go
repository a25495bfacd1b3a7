package dwarf

import (
	"sort"

	"github.com/strobehq/strobe/internal/strobeerr"
	"github.com/strobehq/strobe/internal/types"
)

// Resolver answers address/line queries against one binary's parsed
// Index, translating between the static addresses DWARF was computed
// against and the runtime addresses of an actual loaded process via the
// ASLR slide: runtime_address = static_address + (actual_base - image_base).
type Resolver struct {
	idx        *Index
	actualBase uint64
}

// NewResolver binds idx to a live process's actual load base. Pass
// idx.ImageBase (slide zero) when no process is attached yet, e.g. to
// resolve patterns before spawn.
func NewResolver(idx *Index, actualBase uint64) *Resolver {
	return &Resolver{idx: idx, actualBase: actualBase}
}

func (r *Resolver) slide() int64 { return int64(r.actualBase) - int64(r.idx.ImageBase) }

func (r *Resolver) toRuntime(static uint64) uint64 { return uint64(int64(static) + r.slide()) }
func (r *Resolver) toStatic(runtime uint64) uint64 { return uint64(int64(runtime) - r.slide()) }

// ResolveLine finds the statement address at or after (file, line),
// per §4.2's "nearest statement at or after the requested line"
// semantics. If no statement exists at or after line anywhere in the
// file, it returns NoCodeAtLine with the three nearest preceding
// statement lines as a hint.
func (r *Resolver) ResolveLine(file string, line int) (runtimeAddr uint64, resolvedLine int, err error) {
	entries, ok := r.idx.linesByFile[file]
	if !ok || len(entries) == 0 {
		return 0, 0, strobeerr.New(strobeerr.NoCodeAtLine, "no line table for file %s", file)
	}

	i := sort.Search(len(entries), func(i int) bool { return entries[i].line >= line })
	if i < len(entries) {
		e := entries[i]
		return r.toRuntime(e.address), e.line, nil
	}

	hint := nearestPrecedingLines(entries, line, 3)
	return 0, 0, strobeerr.New(strobeerr.NoCodeAtLine,
		"no statement at or after %s:%d; nearest preceding lines: %v", file, line, hint)
}

func nearestPrecedingLines(entries []lineEntry, line, n int) []int {
	var out []int
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		if entries[i].line < line {
			out = append([]int{entries[i].line}, out...)
		}
	}
	return out
}

// ResolveAddress reverse-looks-up a runtime address into the function
// and source position containing it.
func (r *Resolver) ResolveAddress(runtimeAddr uint64) (*types.ResolvedFunction, int, bool) {
	staticAddr := r.toStatic(runtimeAddr)
	fn, ok := r.idx.FunctionAtAddress(staticAddr)
	if !ok {
		return nil, 0, false
	}
	line := nearestLineAtOrBefore(r.idx.linesByFile[fn.SourceFile], staticAddr)
	return fn, line, true
}

func nearestLineAtOrBefore(entries []lineEntry, addr uint64) int {
	best := 0
	for _, e := range entries {
		if e.address <= addr && e.line > best {
			best = e.line
		}
	}
	return best
}

// NextStatement returns the runtime address of the statement
// immediately following addr within the same function, for step-over
// targets. Returns ok=false at the last statement of a function, or when
// addr is not the start of a statement in a known function.
func (r *Resolver) NextStatement(runtimeAddr uint64) (next uint64, ok bool) {
	staticAddr := r.toStatic(runtimeAddr)
	fn, found := r.idx.FunctionAtAddress(staticAddr)
	if !found {
		return 0, false
	}
	entries := r.idx.linesByFile[fn.SourceFile]
	for i, e := range entries {
		if e.address == staticAddr && i+1 < len(entries) && entries[i+1].address < fn.StaticAddress+fnSizeHint(r.idx, fn) {
			return r.toRuntime(entries[i+1].address), true
		}
	}
	return 0, false
}

func fnSizeHint(idx *Index, fn *types.ResolvedFunction) uint64 {
	for _, rg := range idx.ranges {
		if rg.fn == fn {
			return rg.high - rg.low
		}
	}
	return 0
}

// FindVariable resolves a global/static variable to a runtime address.
func (r *Resolver) FindVariable(name string) (uint64, bool) {
	v, ok := r.idx.Variable(name)
	if !ok {
		return 0, false
	}
	return r.toRuntime(v.address), true
}

// ResolveFunction looks up a function by name and returns its runtime
// entry address, honoring the current slide.
func (r *Resolver) ResolveFunction(name string) (*types.ResolvedFunction, uint64, bool) {
	fn, ok := r.idx.FunctionByName(name)
	if !ok {
		return nil, 0, false
	}
	return fn, r.toRuntime(fn.StaticAddress), true
}
