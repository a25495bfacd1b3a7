package dwarf

import (
	"debug/dwarf"
	"sort"
	"sync"

	"github.com/strobehq/strobe/internal/types"
)

// funcRange is one subprogram's address extent, used for the
// address-range → function index (reverse address lookup).
type funcRange struct {
	low, high uint64
	fn        *types.ResolvedFunction
}

// lineEntry is one row of a compilation unit's line table: the address a
// statement begins at, and the source position it corresponds to.
type lineEntry struct {
	address  uint64
	file     string
	line     int
	isStmt   bool
}

// variable is a global or static variable's resolved location.
type variable struct {
	name    string
	address uint64
	typ     string
}

// Index is the immutable, read-mostly result of parsing one binary's
// debug info. Concurrent reads are always safe; population (Parse) is
// single-writer, serialized per binary by the Cache.
type Index struct {
	ImageBase uint64

	byName map[string]*types.ResolvedFunction
	ranges []funcRange // sorted by low, for reverse address lookup

	// linesByFile holds each file's statement addresses sorted by line,
	// for resolve_line's "nearest statement at or after" semantics.
	linesByFile map[string][]lineEntry

	variables map[string]*variable

	// unclassifiedSources holds source paths that could not be resolved
	// against a project root for @usercode classification (spec §9 open
	// question). Only recordUnclassified adds to it, and nothing in the
	// daemon calls recordUnclassified, so the set stays empty.
	mu                   sync.Mutex
	unclassifiedSources  map[string]bool
}

func newIndex() *Index {
	return &Index{
		byName:              make(map[string]*types.ResolvedFunction),
		linesByFile:         make(map[string][]lineEntry),
		variables:           make(map[string]*variable),
		unclassifiedSources: make(map[string]bool),
	}
}

// finalize sorts the indexes built incrementally during parallel CU
// parsing so later lookups can binary-search them.
func (idx *Index) finalize() {
	sort.Slice(idx.ranges, func(i, j int) bool { return idx.ranges[i].low < idx.ranges[j].low })
	for file, entries := range idx.linesByFile {
		sort.Slice(entries, func(i, j int) bool { return entries[i].line < entries[j].line })
		idx.linesByFile[file] = entries
	}
}

// FunctionByName looks up a resolved function by its demangled name.
func (idx *Index) FunctionByName(name string) (*types.ResolvedFunction, bool) {
	fn, ok := idx.byName[name]
	return fn, ok
}

// Functions returns every resolved function known to this index, in
// undefined order; callers needing stable order should sort the result.
func (idx *Index) Functions() []*types.ResolvedFunction {
	out := make([]*types.ResolvedFunction, 0, len(idx.byName))
	for _, fn := range idx.byName {
		out = append(out, fn)
	}
	return out
}

// FunctionAtAddress does a reverse lookup: the function whose static
// address range contains addr, if any.
func (idx *Index) FunctionAtAddress(addr uint64) (*types.ResolvedFunction, bool) {
	i := sort.Search(len(idx.ranges), func(i int) bool { return idx.ranges[i].low > addr })
	if i == 0 {
		return nil, false
	}
	r := idx.ranges[i-1]
	if addr >= r.low && addr < r.high {
		return r.fn, true
	}
	return nil, false
}

// Variable looks up a global/static variable's location by name.
func (idx *Index) Variable(name string) (*variable, bool) {
	v, ok := idx.variables[name]
	return v, ok
}

func (idx *Index) recordUnclassified(file string) {
	idx.mu.Lock()
	idx.unclassifiedSources[file] = true
	idx.mu.Unlock()
}

// UnclassifiedCount reports how many distinct source paths were recorded
// through recordUnclassified. Nothing records any, so it returns 0.
func (idx *Index) UnclassifiedCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.unclassifiedSources)
}

// entryLowHigh reads AttrLowpc/AttrHighpc off a subprogram DIE, handling
// the DWARF4+ form where highpc is an offset from lowpc rather than an
// absolute address.
func entryLowHigh(e *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal := e.Val(dwarf.AttrLowpc)
	highVal := e.Val(dwarf.AttrHighpc)
	if lowVal == nil || highVal == nil {
		return 0, 0, false
	}
	l, lok := lowVal.(uint64)
	if !lok {
		return 0, 0, false
	}
	switch h := highVal.(type) {
	case uint64:
		if h > l {
			return l, h, true
		}
		// Offset form: highpc is a size relative to lowpc.
		return l, l + h, true
	case int64:
		return l, l + uint64(h), true
	default:
		return 0, 0, false
	}
}
