// Package mimetypes resolves file extensions to content types.
package mimetypes

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

// WasmType is the content type browsers require for streaming compilation.
const WasmType = "application/wasm"

// Table maps extensions (with leading dot) to content types. Overrides take
// precedence over the baseline registry. A Table never changes after New.
type Table struct {
	overrides map[string]string
	baseline  func(ext string) string
}

// New builds a table from the given overrides on top of the mime package
// registry. Keys are matched case-insensitively.
func New(overrides map[string]string) (*Table, error) {
	t := &Table{
		overrides: make(map[string]string, len(overrides)),
		baseline:  mime.TypeByExtension,
	}
	for ext, typ := range overrides {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return nil, fmt.Errorf("invalid extension %q: must start with a dot", ext)
		}
		if _, _, err := mime.ParseMediaType(typ); err != nil {
			return nil, fmt.Errorf("invalid content type %q for %s: %w", typ, ext, err)
		}
		t.overrides[strings.ToLower(ext)] = typ
	}
	return t, nil
}

// Default returns the baseline registry with .wasm forced to application/wasm.
func Default() *Table {
	t, err := New(map[string]string{".wasm": WasmType})
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the content type for ext, or "" when neither the overrides
// nor the baseline know it.
func (t *Table) Lookup(ext string) string {
	if ext == "" {
		return ""
	}
	if typ, ok := t.overrides[strings.ToLower(ext)]; ok {
		return typ
	}
	return t.baseline(ext)
}

// ForPath resolves by the extension of a slash-separated path.
func (t *Table) ForPath(p string) string {
	return t.Lookup(path.Ext(p))
}

// Overrides returns a copy of the explicit entries.
func (t *Table) Overrides() map[string]string {
	out := make(map[string]string, len(t.overrides))
	for k, v := range t.overrides {
		out[k] = v
	}
	return out
}
