package dwarf

import (
	gdwarf "debug/dwarf"
	"debug/elf"
	"debug/macho"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/strobehq/strobe/internal/strobeerr"
	"github.com/strobehq/strobe/internal/types"
)

// image wraps whatever we needed from the object file to get a
// *dwarf.Data and an image base (the static load address DWARF was
// computed against, used to derive the ASLR slide at spawn time).
type image struct {
	data      *gdwarf.Data
	imageBase uint64
}

func openImage(path string) (*image, error) {
	if f, err := elf.Open(path); err == nil {
		defer f.Close()
		d, err := f.DWARF()
		if err != nil {
			return nil, strobeerr.Wrap(strobeerr.NoDebugSymbols, err, "binary %s has no DWARF debug info", path)
		}
		base := imageBaseELF(f)
		return &image{data: d, imageBase: base}, nil
	}
	if f, err := macho.Open(path); err == nil {
		defer f.Close()
		d, err := f.DWARF()
		if err != nil {
			return nil, strobeerr.Wrap(strobeerr.NoDebugSymbols, err, "binary %s has no DWARF debug info", path)
		}
		return &image{data: d, imageBase: imageBaseMacho(f)}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat binary: %w", err)
	}
	return nil, strobeerr.New(strobeerr.NoDebugSymbols, "binary %s is neither a recognized ELF nor Mach-O image", path)
}

func imageBaseELF(f *elf.File) uint64 {
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			return p.Vaddr
		}
	}
	return 0
}

func imageBaseMacho(f *macho.File) uint64 {
	for _, l := range f.Loads {
		if seg, ok := l.(*macho.Segment); ok && seg.Name == "__TEXT" {
			return seg.Addr
		}
	}
	return 0
}

// Parse reads all debug info from the binary at path and builds an
// Index: compilation units are walked in parallel (CPU-bound work,
// parallelizable per the spec), each contributing its own functions,
// line-table entries, and variables to shared indexes guarded only by
// the minimal locking needed for concurrent map writes; the caller
// serializes concurrent Parse calls for the same binary via Cache so
// this function itself assumes single-writer access to the Index it
// returns.
func Parse(path string, demangler Demangler) (*Index, error) {
	img, err := openImage(path)
	if err != nil {
		return nil, err
	}

	idx := newIndex()
	idx.ImageBase = img.imageBase

	var cuOffsets []gdwarf.Offset
	r := img.data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("read compilation units: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == gdwarf.TagCompileUnit {
			cuOffsets = append(cuOffsets, entry.Offset)
			r.SkipChildren()
		}
	}

	mu := idxMutex{mu: make(chan struct{}, 1)}
	g := new(errgroup.Group)
	for _, off := range cuOffsets {
		off := off
		g.Go(func() error {
			return parseCU(img.data, off, idx, &mu, demangler)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parse compilation units: %w", err)
	}

	idx.finalize()
	return idx, nil
}

// idxMutex is the single lock guarding the shared maps that per-CU
// goroutines contribute to; each CU's own work (walking its DIE tree,
// decoding its line table) is independent and unlocked, only the final
// map insert takes the lock, keeping contention minimal.
type idxMutex struct{ mu chan struct{} }

func (m *idxMutex) lock() {
	if m.mu == nil {
		m.mu = make(chan struct{}, 1)
	}
	m.mu <- struct{}{}
}

func (m *idxMutex) unlock() { <-m.mu }

func parseCU(data *gdwarf.Data, off gdwarf.Offset, idx *Index, mu *idxMutex, demangler Demangler) error {
	r := data.Reader()
	r.Seek(off)
	cuEntry, err := r.Next()
	if err != nil || cuEntry == nil {
		return fmt.Errorf("read compilation unit at %v: %w", off, err)
	}

	cuName, _ := cuEntry.Val(gdwarf.AttrName).(string)

	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("walk compilation unit %s: %w", cuName, err)
		}
		if entry == nil || entry.Tag == 0 {
			break
		}
		switch entry.Tag {
		case gdwarf.TagSubprogram:
			fn := functionFromEntry(entry, cuName, demangler)
			if fn == nil {
				continue
			}
			low, high, hasRange := entryLowHigh(entry)
			mu.lock()
			idx.byName[fn.DemangledName] = fn
			if hasRange {
				idx.ranges = append(idx.ranges, funcRange{low: low, high: high, fn: fn})
			}
			mu.unlock()
		case gdwarf.TagVariable:
			v := variableFromEntry(entry)
			if v != nil {
				mu.lock()
				idx.variables[v.name] = v
				mu.unlock()
			}
		}
	}

	// Line table: snaps addresses to statement boundaries for resolve_line.
	lr, err := data.LineReader(cuEntry)
	if err != nil || lr == nil {
		return nil // Some CUs legitimately have no line program.
	}
	var le gdwarf.LineEntry
	entriesByFile := make(map[string][]lineEntry)
	for {
		if err := lr.Next(&le); err != nil {
			break
		}
		if !le.IsStmt {
			continue
		}
		file := ""
		if le.File != nil {
			file = le.File.Name
		}
		entriesByFile[file] = append(entriesByFile[file], lineEntry{
			address: le.Address,
			file:    file,
			line:    le.Line,
			isStmt:  le.IsStmt,
		})
	}
	mu.lock()
	for file, entries := range entriesByFile {
		idx.linesByFile[file] = append(idx.linesByFile[file], entries...)
	}
	mu.unlock()

	return nil
}

func functionFromEntry(e *gdwarf.Entry, cuFile string, demangler Demangler) *types.ResolvedFunction {
	name, _ := e.Val(gdwarf.AttrName).(string)
	linkageName, _ := e.Val(gdwarf.AttrLinkageName).(string)
	if name == "" && linkageName == "" {
		return nil
	}

	// Prefer linkage names over source names for overloaded symbols, per
	// the resolver's stated policy, then demangle for display.
	mangled := linkageName
	display := name
	if mangled != "" {
		if d := demangler.Demangle(mangled); d != "" {
			display = d
		} else if display == "" {
			display = mangled
		}
	}
	if display == "" {
		display = name
	}

	fn := &types.ResolvedFunction{
		DemangledName: display,
		MangledName:   mangled,
		SourceFile:    cuFile,
	}
	if low, _, ok := entryLowHigh(e); ok {
		fn.StaticAddress = low
	}
	if line, ok := e.Val(gdwarf.AttrDeclLine).(int64); ok {
		fn.SourceLine = int(line)
	}
	return fn
}

func variableFromEntry(e *gdwarf.Entry) *variable {
	name, _ := e.Val(gdwarf.AttrName).(string)
	if name == "" {
		return nil
	}
	loc, ok := e.Val(gdwarf.AttrLocation).([]byte)
	if !ok || len(loc) == 0 {
		return nil
	}
	// DW_OP_addr (0x03) followed by a little-endian address is the only
	// static-location form resolved here; register-relative and other
	// dynamic locations surface as OptimizedOut by the caller.
	const opAddr = 0x03
	if loc[0] != opAddr || len(loc) < 9 {
		return nil
	}
	addr := uint64(0)
	for i := 0; i < 8; i++ {
		addr |= uint64(loc[1+i]) << (8 * i)
	}
	return &variable{name: name, address: addr}
}
