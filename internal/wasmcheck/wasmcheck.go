// Package wasmcheck compiles served WebAssembly binaries to catch broken
// builds before a browser does.
package wasmcheck

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

const wasiModuleName = "wasi_snapshot_preview1"

// Result describes one verified binary.
type Result struct {
	Path    string
	Size    int64
	Imports int
	Exports int
	WASI    bool // imports from wasi_snapshot_preview1
	Err     error
}

// OK reports whether the binary compiled.
func (r Result) OK() bool { return r.Err == nil }

// Checker compiles modules with a shared interpreter runtime.
type Checker struct {
	rt wazero.Runtime
	fs afero.Fs
}

// NewChecker creates a checker reading from fsys. Close releases the runtime.
func NewChecker(ctx context.Context, fsys afero.Fs) *Checker {
	// The interpreter validates without paying for native compilation.
	// Threads covers shared memories from -pthread and atomics builds.
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	return &Checker{rt: rt, fs: fsys}
}

// Close releases the underlying runtime.
func (c *Checker) Close(ctx context.Context) error {
	return c.rt.Close(ctx)
}

// VerifyFile compiles the module at path.
func (c *Checker) VerifyFile(ctx context.Context, path string) Result {
	res := Result{Path: path}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		res.Err = fmt.Errorf("read %s: %w", path, err)
		return res
	}
	res.Size = int64(len(data))

	code, err := c.rt.CompileModule(ctx, data)
	if err != nil {
		res.Err = fmt.Errorf("compile %s: %w", path, err)
		return res
	}
	defer func() { _ = code.Close(ctx) }()

	imports := code.ImportedFunctions()
	res.Imports = len(imports)
	for _, f := range imports {
		if moduleName, _, ok := f.Import(); ok && moduleName == wasiModuleName {
			res.WASI = true
			break
		}
	}
	res.Exports = len(code.ExportedFunctions())
	return res
}

// Verify walks root and compiles every .wasm file found.
func (c *Checker) Verify(ctx context.Context, root string) ([]Result, error) {
	var results []Result
	err := afero.Walk(c.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsWasm(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		results = append(results, c.VerifyFile(ctx, path))
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("walk %s: %w", root, err)
	}
	return results, nil
}

// Verify is a one-shot helper around Checker.Verify.
func Verify(ctx context.Context, fsys afero.Fs, root string) ([]Result, error) {
	c := NewChecker(ctx, fsys)
	defer func() { _ = c.Close(ctx) }()
	return c.Verify(ctx, root)
}

// IsWasm reports whether path has a .wasm extension.
func IsWasm(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wasm")
}

// Log writes one line per result: info for valid modules, warn for broken ones.
func Log(logger *slog.Logger, results []Result) {
	for _, r := range results {
		if r.OK() {
			logger.Info("wasm module ok",
				"path", r.Path,
				"size", r.Size,
				"imports", r.Imports,
				"exports", r.Exports,
				"wasi", r.WASI)
			continue
		}
		logger.Warn("wasm module invalid", "path", r.Path, "error", r.Err)
	}
}
