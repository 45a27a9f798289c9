// Package jit wraps the LLVM execution engine into the process-wide code
// cache: modules are handed over once, and resolved symbols stay valid for
// the lifetime of the process.
package jit

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/go-llvm"
)

// ErrSymbolNotFound reports a lookup for a name the cache does not hold.
var ErrSymbolNotFound = errors.New("symbol not found in compiled module")

var nativeOnce sync.Once

// Init performs the process-wide native-target initialisation. It is safe to
// call from multiple goroutines; the work runs once.
func Init() {
	nativeOnce.Do(func() {
		llvm.InitializeAllTargetInfos()
		llvm.InitializeAllTargets()
		llvm.InitializeAllTargetMCs()
		llvm.InitializeAllAsmParsers()
		llvm.InitializeAllAsmPrinters()
		llvm.LinkInMCJIT()
	})
}

// Cache owns compiled modules and resolves entry points to native addresses.
type Cache struct {
	engine llvm.ExecutionEngine
}

// NewCache compiles the module and takes ownership of it. The module must not
// be touched by the caller afterwards.
func NewCache(module llvm.Module) (*Cache, error) {
	Init()
	opts := llvm.NewMCJITCompilerOptions()
	opts.SetMCJITOptimizationLevel(2)
	engine, err := llvm.NewMCJITCompiler(module, opts)
	if err != nil {
		return nil, fmt.Errorf("creating the execution engine: %w", err)
	}
	return &Cache{engine: engine}, nil
}

// Lookup resolves a symbol to its native address.
func (c *Cache) Lookup(name string) (uintptr, error) {
	fn := c.engine.FindFunction(name)
	if fn.IsNil() {
		return 0, fmt.Errorf("%w: %q", ErrSymbolNotFound, name)
	}
	return uintptr(c.engine.PointerToGlobal(fn)), nil
}
