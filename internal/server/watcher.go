package server

import (
	"context"
	"sync"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/wasmserve/internal/wasmcheck"
	"github.com/Kush-Singh-26/wasmserve/internal/watch"
)

// startWatcher watches the served root and broadcasts a reload for every
// debounced batch of changes. A watcher failure only disables live reload.
func (s *Server) startWatcher(ctx context.Context, wg *sync.WaitGroup, checker *wasmcheck.Checker) {
	w, err := watch.New([]string{s.cfg.Root}, s.cfg.Debounce, func(paths []string) {
		s.onChange(ctx, checker, paths)
	}, s.logger)
	if err != nil {
		s.logger.Warn("Failed to create file watcher", "error", err)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil {
			s.logger.Warn("File watcher stopped", "dir", s.cfg.Root, "error", err)
		}
	}()
}

func (s *Server) onChange(ctx context.Context, checker *wasmcheck.Checker, paths []string) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("Change detected", "files", len(paths), "clients", s.hub.count())

	if checker != nil {
		var results []wasmcheck.Result
		for _, p := range paths {
			if !wasmcheck.IsWasm(p) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if ok, _ := afero.Exists(s.cfg.Fs, p); !ok {
				continue
			}
			results = append(results, checker.VerifyFile(ctx, p))
		}
		wasmcheck.Log(s.logger, results)
	}

	s.hub.broadcast()
}
