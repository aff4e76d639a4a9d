package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound means a loader does not know the source.
	ErrNotFound = errors.New("tool source not found")
	// ErrNoEntryPoint means the source was found but exposes no init function.
	ErrNoEntryPoint = errors.New("tool module has no entry point")
)

// Loader resolves a source locator to the module's entry point.
type Loader interface {
	Load(ctx context.Context, source string) (InitFunc, error)
}

// Builtins is a table of compiled-in modules keyed by source locator. Entry
// points only run when their source is loaded.
type Builtins map[string]InitFunc

func (b Builtins) Load(_ context.Context, source string) (InitFunc, error) {
	fn, ok := b[source]
	if !ok {
		return nil, fmt.Errorf("%s: %w", source, ErrNotFound)
	}
	if fn == nil {
		return nil, fmt.Errorf("%s: %w", source, ErrNoEntryPoint)
	}
	return fn, nil
}

// Sources returns the builtin locators, sorted.
func (b Builtins) Sources() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Chain tries each loader in order; the first result other than ErrNotFound wins.
type Chain []Loader

func (c Chain) Load(ctx context.Context, source string) (InitFunc, error) {
	for _, l := range c {
		if l == nil {
			continue
		}
		fn, err := l.Load(ctx, source)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return fn, err
	}
	return nil, fmt.Errorf("%s: %w", source, ErrNotFound)
}
