package moduleloader

import (
	"regexp"
	"strings"
)

// staticImportRe recognizes the static import forms a module body uses:
// default, namespace, named, and bare side-effect imports, each with an
// optional trailing import-attributes clause. It is a heuristic scanner,
// not a JS parser: it assumes one import statement per source line and
// does not understand template literals or comments containing the word
// "import", which is an accepted simplification for the module shapes
// this loader is asked to resolve.
var staticImportRe = regexp.MustCompile(`(?m)^[ \t]*import\s+(?:(?:\*\s+as\s+([A-Za-z_$][\w$]*))|(\{[^}]*\})|([A-Za-z_$][\w$]*))?\s*(?:from\s+)?["']([^"']+)["']\s*(?:with\s*\{\s*type\s*:\s*["'](\w+)["']\s*\})?\s*;?`)

// dynamicImportRe recognizes a dynamic import() call with an optional
// {with: {type: "..."}} style attributes object, the one shape scenario
// §8.3 exercises.
var dynamicImportRe = regexp.MustCompile(`import\s*\(\s*["']([^"']+)["']\s*(?:,\s*\{[^}]*type\s*:\s*["'](\w+)["'][^}]*\})?\s*\)`)

// parsedImport is one static import statement, before its specifier has
// been resolved to a Module.
type parsedImport struct {
	Raw       string
	Binding   string
	Specifier string
	TypeAttr  string
}

// parseStaticImports scans source for static import statements in
// declaration order.
func parseStaticImports(source string) []parsedImport {
	matches := staticImportRe.FindAllStringSubmatch(source, -1)
	out := make([]parsedImport, 0, len(matches))
	for _, m := range matches {
		ns, named, def, specifier, typeAttr := m[1], m[2], m[3], m[4], m[5]
		binding := ""
		switch {
		case ns != "":
			binding = "ns:" + ns
		case named != "":
			binding = "named:" + named
		case def != "":
			binding = "default:" + def
		}
		out = append(out, parsedImport{Raw: strings.TrimRight(m[0], "\n"), Binding: binding, Specifier: specifier, TypeAttr: typeAttr})
	}
	return out
}

// attrsFromImport resolves the effective module type for a parsed static
// import: its own "with {type: ...}" clause if present, the default
// otherwise.
func attrsFromImport(p parsedImport, def ModuleType) ModuleType {
	if p.TypeAttr == "" {
		return def
	}
	if t, ok := ParseType(p.TypeAttr); ok {
		return t
	}
	return def
}
