// Package pattern implements the glob-style selector language used to
// choose which resolved symbols get hooked, watched, or breakpointed.
//
// Selectors are segment sequences separated by a per-language separator
// ("::" for C-family binaries, "." for dotted-name runtimes). A single
// "*" matches exactly one segment; "**" matches zero or more segments.
// "@file:PATH" and "@usercode" match on source file rather than symbol
// name.
package pattern

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/strobehq/strobe/internal/types"
)

// Separator identifies which segment separator a pattern uses.
type Separator string

const (
	SepColon Separator = "::"
	SepDot   Separator = "."
)

// kind distinguishes the three selector forms.
type kind int

const (
	kindName kind = iota
	kindFile
	kindUserCode
)

// Pattern is a single compiled selector.
type Pattern struct {
	raw       string
	kind      kind
	sep       Separator
	segments  []string // only for kindName
	filePath  string   // only for kindFile
}

// ParseError reports a malformed selector. It never aborts parsing of the
// other patterns in the same request (§4.1: "do not affect other patterns
// in the same request").
type ParseError struct {
	Pattern string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

// Compile parses a single selector string using the given separator for
// name-form selectors.
func Compile(raw string, sep Separator) (*Pattern, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Pattern: raw, Reason: "empty selector"}
	}

	switch {
	case trimmed == "@usercode":
		return &Pattern{raw: raw, kind: kindUserCode}, nil
	case strings.HasPrefix(trimmed, "@file:"):
		path := strings.TrimPrefix(trimmed, "@file:")
		if path == "" {
			return nil, &ParseError{Pattern: raw, Reason: "@file: requires a path"}
		}
		return &Pattern{raw: raw, kind: kindFile, filePath: path}, nil
	case strings.HasPrefix(trimmed, "@"):
		return nil, &ParseError{Pattern: raw, Reason: "unknown @-selector"}
	}

	segs := strings.Split(trimmed, string(sep))
	for _, s := range segs {
		if s == "" {
			return nil, &ParseError{Pattern: raw, Reason: "empty segment between separators"}
		}
	}
	return &Pattern{raw: raw, kind: kindName, sep: sep, segments: segs}, nil
}

// String returns the original selector text.
func (p *Pattern) String() string { return p.raw }

// Matches reports whether fn satisfies this selector. projectRoot is used
// only by the @usercode form.
func (p *Pattern) Matches(fn *types.ResolvedFunction, projectRoot string) bool {
	switch p.kind {
	case kindFile:
		return fn.SourceFile != "" && strings.Contains(fn.SourceFile, p.filePath)
	case kindUserCode:
		return isUserCode(fn.SourceFile, projectRoot)
	default:
		name := fn.DemangledName
		segs := strings.Split(name, string(p.sep))
		return matchSegments(p.segments, segs)
	}
}

// isUserCode classifies fn as belonging to the project if its (resolved)
// source path is lexically within projectRoot. Compilation units with
// relative or absent paths that cannot be resolved are treated as not
// user code; they are not counted anywhere (the resolver's
// UnclassifiedCount stays zero).
func isUserCode(sourceFile, projectRoot string) bool {
	if sourceFile == "" || projectRoot == "" {
		return false
	}
	abs := sourceFile
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(projectRoot, abs)
	}
	cleanRoot := filepath.Clean(projectRoot)
	cleanFile := filepath.Clean(abs)
	rel, err := filepath.Rel(cleanRoot, cleanFile)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// matchSegments implements the pattern grammar over a name already split
// into segments:
//
//	A::B         exact match
//	A::*         exactly one more segment, does not cross separators
//	A::**        zero or more segments, crosses separators
//	*::X         one leading wildcard segment
//	A::**::X     any chain between A and X
func matchSegments(pat, name []string) bool {
	return matchFrom(pat, name)
}

func matchFrom(pat, name []string) bool {
	if len(pat) == 0 {
		return len(name) == 0
	}
	head := pat[0]
	switch head {
	case "**":
		// Zero-or-more: try every possible split point.
		rest := pat[1:]
		for i := 0; i <= len(name); i++ {
			if matchFrom(rest, name[i:]) {
				return true
			}
		}
		return false
	case "*":
		if len(name) == 0 {
			return false
		}
		return matchFrom(pat[1:], name[1:])
	default:
		if len(name) == 0 || name[0] != head {
			return false
		}
		return matchFrom(pat[1:], name[1:])
	}
}

// Resolve matches every compiled pattern against symbols, returning the
// deduplicated, stably ordered set of matches. Matching is independent
// per pattern; a malformed pattern elsewhere in the batch never affects
// this call since callers compile patterns individually and collect
// ParseErrors before calling Resolve.
func Resolve(patterns []*Pattern, symbols []*types.ResolvedFunction, projectRoot string) []*types.ResolvedFunction {
	seen := make(map[string]bool, len(symbols))
	var out []*types.ResolvedFunction
	for _, sym := range symbols {
		for _, p := range patterns {
			if p.Matches(sym, projectRoot) {
				key := sym.DemangledName + "\x00" + sym.SourceFile
				if !seen[key] {
					seen[key] = true
					out = append(out, sym)
				}
				break
			}
		}
	}
	return out
}

// CompileAll compiles every raw selector, collecting parse errors by
// selector so the caller can report per-pattern failures without failing
// the whole request.
func CompileAll(raw []string, sep Separator) (compiled []*Pattern, errs []error) {
	for _, r := range raw {
		p, err := Compile(r, sep)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled = append(compiled, p)
	}
	return compiled, errs
}
