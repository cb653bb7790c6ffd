package moduleloader

import (
	"fmt"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/v8app/jsapp/jsapperr"
)

// TransformToIIFE turns an ES module body (export/import syntax the VM's
// plain-script RunScript cannot parse) into a classic-script IIFE that
// assigns its exports to globalThis.<globalName>, the same approach the
// worker pool's wrapESModule uses to make ES module source runnable
// through a script-only embedding API.
func TransformToIIFE(source, globalName string) (string, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Format:     esbuild.FormatIIFE,
		GlobalName: "globalThis." + globalName,
		Target:     esbuild.ESNext,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			msgs[i] = e.Text
		}
		return "", jsapperr.New(jsapperr.Compile, "moduleloader.TransformToIIFE", "transforming module: "+strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

// RewriteImports replaces each of a module's static import statements with
// a const binding against the already-evaluated target module's global
// exports record, so the transform step below never has to understand
// cross-module linking.
func RewriteImports(source string, imports []ModuleImport) string {
	out := source
	for _, imp := range imports {
		out = strings.Replace(out, imp.Raw, importBinding(imp), 1)
	}
	return out
}

func importBinding(imp ModuleImport) string {
	if imp.Target == nil {
		return ""
	}
	global := "globalThis." + imp.Target.GlobalName
	switch {
	case strings.HasPrefix(imp.Binding, "default:"):
		name := strings.TrimPrefix(imp.Binding, "default:")
		return "const " + name + " = (" + global + " || {}).default;"
	case strings.HasPrefix(imp.Binding, "ns:"):
		name := strings.TrimPrefix(imp.Binding, "ns:")
		return "const " + name + " = " + global + ";"
	case strings.HasPrefix(imp.Binding, "named:"):
		clause := strings.TrimPrefix(imp.Binding, "named:")
		return "const " + clause + " = " + global + ";"
	default:
		return ""
	}
}

// RewriteDynamicImports replaces import(...) expressions with calls to the
// native globalThis.__dynamicImport bridge, carrying the specifier, any
// {type: ...} attribute, and the evaluating module's own path as the
// referrer for resolution.
func RewriteDynamicImports(source, referrerPath string) string {
	return dynamicImportRe.ReplaceAllStringFunc(source, func(m string) string {
		sub := dynamicImportRe.FindStringSubmatch(m)
		return fmt.Sprintf("globalThis.__dynamicImport(%q, %q, %q)", sub[1], sub[2], referrerPath)
	})
}
