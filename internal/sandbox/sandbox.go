// Package sandbox loads, caches, and executes user-supplied WASI bytecode
// modules with a typed host ABI, the pure-Go analogue of the wasmtime +
// WIT component model used by wasi-runtime/src/lib.rs and invoked from
// protocols/src/http/proxy.rs and pre_request/mod.rs. tetratelabs/wazero
// replaces wasmtime so the whole host has no cgo dependency.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tlsgate/tlsgate/internal/tglog"
)

// Error reports a load, compilation, instantiation or execution (trap)
// failure, naming the failed step in Op. Hook-signaled invalid
// configuration is reported separately as InvalidDataError. The HTTP
// pipeline answers a request whose request or response hook returns
// either error with a 500; a failed pre-request hook makes the
// dispatcher fall back to Pass.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("sandbox: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// InvalidDataError is returned when a hook calls set_invalid_data,
// signaling a parse/config error that should fail the request with a 500
// carrying the hook's message.
type InvalidDataError struct {
	Message string
}

func (e *InvalidDataError) Error() string { return e.Message }

// Module is a compiled bytecode module, cached in memory by its source
// path so repeated loads of the same path never recompile.
type Module struct {
	path     string
	hash     string
	compiled wazero.CompiledModule
}

// Runtime compiles, caches, and executes bytecode modules. It is safe for
// concurrent use; compiled-module lookups are rw-leased and concurrent
// compiles of the same path are de-duplicated via singleflight, matching
// the "first writer wins the compile" shared-resource policy of spec §5.
type Runtime struct {
	rt          wazero.Runtime
	cacheDir    string
	compileOnce singleflight.Group

	mu       sync.RWMutex
	compiled map[string]*Module // keyed by source path

	pool *Pool
	log  *zap.Logger
}

// NewRuntime builds a Runtime whose compiled-module disk cache lives
// under cacheDir.
func NewRuntime(ctx context.Context, cacheDir string) (*Runtime, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, &Error{Op: "mkdir-cache", Err: err}
	}

	compilationCache, err := wazero.NewCompilationCacheWithDir(cacheDir)
	if err != nil {
		return nil, &Error{Op: "open-compilation-cache", Err: err}
	}

	cfg := wazero.NewRuntimeConfig().WithCompilationCache(compilationCache)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, &Error{Op: "instantiate-wasi", Err: err}
	}
	if err := registerHostModules(ctx, rt); err != nil {
		return nil, &Error{Op: "register-host-abi", Err: err}
	}

	return &Runtime{
		rt:       rt,
		cacheDir: cacheDir,
		compiled: make(map[string]*Module),
		pool:     NewPool(defaultPoolSize()),
		log:      tglog.Named("sandbox"),
	}, nil
}

// Close releases the underlying wazero runtime and worker pool.
func (r *Runtime) Close(ctx context.Context) error {
	r.pool.Close()
	return r.rt.Close(ctx)
}

// Load compiles the module at path at most once, reusing the in-memory
// and on-disk compiled form on subsequent calls. Concurrent Load calls
// for the same path await a single compile.
func (r *Runtime) Load(ctx context.Context, path string) (*Module, error) {
	r.mu.RLock()
	if m, ok := r.compiled[path]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.compileOnce.Do(path, func() (interface{}, error) {
		r.mu.RLock()
		if m, ok := r.compiled[path]; ok {
			r.mu.RUnlock()
			return m, nil
		}
		r.mu.RUnlock()

		var module *Module
		compileErr := r.pool.Do(func() error {
			m, err := r.compile(ctx, path)
			if err != nil {
				return err
			}
			module = m
			return nil
		})
		if compileErr != nil {
			return nil, compileErr
		}

		r.mu.Lock()
		r.compiled[path] = module
		r.mu.Unlock()
		return module, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

func (r *Runtime) compile(ctx context.Context, path string) (*Module, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "read-module", Err: err}
	}

	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &Error{Op: "compile-module", Err: err}
	}

	r.log.Debug("compiled bytecode module", zap.String("path", path), zap.String("hash", hashPath(path)))
	return &Module{path: path, hash: hashPath(path), compiled: compiled}, nil
}

// hashPath is a stable hash of the source PATH, not its contents,
// recorded on Module and in the compile log line. Neither cache is keyed
// by it: the in-memory cache uses the path itself, and wazero's
// compilation cache names its own files.
func hashPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

