package dwarf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strobehq/strobe/internal/strobeerr"
	"github.com/strobehq/strobe/internal/types"
)

// buildIndex constructs an Index directly (bypassing Parse, which needs
// a real object file) so the query logic can be exercised against known
// fixture data.
func buildIndex() *Index {
	idx := newIndex()
	idx.ImageBase = 0x1000

	foo := &types.ResolvedFunction{DemangledName: "foo", SourceFile: "main.c", StaticAddress: 0x1100}
	bar := &types.ResolvedFunction{DemangledName: "bar", SourceFile: "main.c", StaticAddress: 0x1200}
	idx.byName["foo"] = foo
	idx.byName["bar"] = bar
	idx.ranges = []funcRange{
		{low: 0x1100, high: 0x1200, fn: foo},
		{low: 0x1200, high: 0x1300, fn: bar},
	}
	idx.linesByFile["main.c"] = []lineEntry{
		{address: 0x1100, file: "main.c", line: 10, isStmt: true},
		{address: 0x1110, file: "main.c", line: 11, isStmt: true},
		{address: 0x1120, file: "main.c", line: 13, isStmt: true},
		{address: 0x1200, file: "main.c", line: 20, isStmt: true},
	}
	idx.variables["counter"] = &variable{name: "counter", address: 0x4000}
	idx.finalize()
	return idx
}

func TestFunctionAtAddressReverseLookup(t *testing.T) {
	idx := buildIndex()
	fn, ok := idx.FunctionAtAddress(0x1150)
	require.True(t, ok)
	require.Equal(t, "foo", fn.DemangledName)

	fn, ok = idx.FunctionAtAddress(0x1200)
	require.True(t, ok)
	require.Equal(t, "bar", fn.DemangledName)

	_, ok = idx.FunctionAtAddress(0x0FFF)
	require.False(t, ok)
}

func TestResolveLineFindsNearestStatementAtOrAfter(t *testing.T) {
	idx := buildIndex()
	r := NewResolver(idx, idx.ImageBase) // zero slide

	addr, line, err := r.ResolveLine("main.c", 12)
	require.NoError(t, err)
	require.Equal(t, 13, line)
	require.Equal(t, uint64(0x1120), addr)
}

func TestResolveLineNoCodeAtLineReturnsHint(t *testing.T) {
	idx := buildIndex()
	r := NewResolver(idx, idx.ImageBase)

	_, _, err := r.ResolveLine("main.c", 999)
	require.Error(t, err)
	require.Equal(t, strobeerr.NoCodeAtLine, strobeerr.CodeOf(err))
}

func TestResolveHonorsASLRSlide(t *testing.T) {
	idx := buildIndex()
	actualBase := uint64(0x5000) // slide = 0x5000 - 0x1000 = 0x4000
	r := NewResolver(idx, actualBase)

	fn, runtimeAddr, ok := r.ResolveFunction("foo")
	require.True(t, ok)
	require.Equal(t, "foo", fn.DemangledName)
	require.Equal(t, uint64(0x5100), runtimeAddr)

	resolvedFn, _, ok := r.ResolveAddress(0x5150)
	require.True(t, ok)
	require.Equal(t, "foo", resolvedFn.DemangledName)
}

func TestFindVariableAppliesSlide(t *testing.T) {
	idx := buildIndex()
	r := NewResolver(idx, 0x2000) // slide = 0x1000
	addr, ok := r.FindVariable("counter")
	require.True(t, ok)
	require.Equal(t, uint64(0x5000), addr)

	_, ok = r.FindVariable("missing")
	require.False(t, ok)
}

func TestNextStatementStepsWithinFunction(t *testing.T) {
	idx := buildIndex()
	r := NewResolver(idx, idx.ImageBase)

	next, ok := r.NextStatement(0x1100)
	require.True(t, ok)
	require.Equal(t, uint64(0x1110), next)
}
