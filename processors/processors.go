// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package processors resolves a processor name to analysis code and runs
// it against one stored artifact. Processors are trusted local code
// registered at startup; the registry replaces ad-hoc load-by-file-path
// with an explicit name-to-implementation mapping.
package processors

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/mdhender/limsd/model"
	"github.com/spf13/afero"
)

// Runner is the primary processor convention.
type Runner interface {
	Run(fs afero.Fs, path string) (model.Value, error)
}

// Legacy is the fallback convention kept for older processors. It is
// probed only when the implementation does not satisfy Runner.
type Legacy interface {
	Process(fs afero.Fs, path string) (model.Value, error)
}

// Names are bare identifiers; anything else is rejected before lookup so
// a name can never be turned into a path.
var nameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// ErrBadName is returned for processor names that are not bare identifiers.
type ErrBadName struct {
	Name string
}

func (e *ErrBadName) Error() string {
	return fmt.Sprintf("invalid processor name %q", e.Name)
}

// ErrNotFound is returned when no processor is registered under a name.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("processor %q not found", e.Name)
}

// ErrInvalidProcessor is returned when a registered implementation
// satisfies neither call convention.
type ErrInvalidProcessor struct {
	Name string
}

func (e *ErrInvalidProcessor) Error() string {
	return fmt.Sprintf("processor %q has no run or process entry point", e.Name)
}

// ErrExecution wraps a failure (error or panic) inside a processor run.
type ErrExecution struct {
	Name string
	Err  error
}

func (e *ErrExecution) Error() string {
	return fmt.Sprintf("processor %q: %v", e.Name, e.Err)
}

func (e *ErrExecution) Unwrap() error {
	return e.Err
}

// Registry maps processor names to implementations.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]any)}
}

// Default returns a registry with the built-in processors registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register("mean_pixel", MeanPixel{})
	r.Register("dark_light", DarkLight{})
	return r
}

// Register adds a processor under a bare-identifier name. Whether the
// implementation satisfies a call convention is checked at invoke time.
func (r *Registry) Register(name string, p any) error {
	if !nameRE.MatchString(name) {
		return &ErrBadName{Name: name}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[name] = p
	return nil
}

// Resolve validates the name and returns the registered implementation.
func (r *Registry) Resolve(name string) (any, error) {
	if !nameRE.MatchString(name) {
		return nil, &ErrBadName{Name: name}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[name]
	if !ok {
		return nil, &ErrNotFound{Name: name}
	}
	return p, nil
}

// Names returns the registered processor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke resolves name and runs the processor against the artifact at
// path. The conventions are probed in order: Runner first, then Legacy.
// A panic inside the processor is recovered and returned as an
// ErrExecution; it never takes the caller down. There is no timeout: a
// stuck processor blocks its caller.
func (r *Registry) Invoke(fs afero.Fs, name, path string) (result model.Value, err error) {
	p, err := r.Resolve(name)
	if err != nil {
		return model.Value{}, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = model.Value{}
			err = &ErrExecution{Name: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	var runErr error
	switch impl := p.(type) {
	case Runner:
		result, runErr = impl.Run(fs, path)
	case Legacy:
		result, runErr = impl.Process(fs, path)
	default:
		return model.Value{}, &ErrInvalidProcessor{Name: name}
	}
	if runErr != nil {
		return model.Value{}, &ErrExecution{Name: name, Err: runErr}
	}
	return result, nil
}
