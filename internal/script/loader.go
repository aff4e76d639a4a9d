// Package script loads tool modules written in JavaScript and runs them on an
// embedded goja runtime.
//
// A module is evaluated with CommonJS-style module/exports objects. Its entry
// point is, in order of preference, module.exports.default, module.exports
// itself when it is a function, or a global function named init. A leading
// "export default" is rewritten to module.exports.default so ES-style tool
// files load unchanged.
package script

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"

	"multitool/internal/registry"
	logx "multitool/pkg/logx"
)

// DefaultBudget bounds a single call into a script.
const DefaultBudget = 2 * time.Second

// ErrTimeout is returned when a script exceeds its budget.
var ErrTimeout = errors.New("script timeout")

var reExportDefault = regexp.MustCompile(`(?m)^(\s*)export\s+default\s+`)

// Loader implements registry.Loader for .js sources.
type Loader struct {
	root   string
	budget time.Duration
	log    logx.Logger
	fsys   fs.FS
}

type Option func(*Loader)

func WithBudget(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.budget = d
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(l *Loader) { l.log = log } }

// WithFS reads sources from fsys instead of the OS filesystem.
func WithFS(fsys fs.FS) Option { return func(l *Loader) { l.fsys = fsys } }

// NewLoader resolves relative sources against root.
func NewLoader(root string, opts ...Option) *Loader {
	l := &Loader{root: root, budget: DefaultBudget}
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	return l
}

// Handles reports whether source looks like a script this loader reads.
func Handles(source string) bool {
	return strings.EqualFold(filepath.Ext(source), ".js")
}

// Path returns the file a source resolves to.
func (l *Loader) Path(source string) string {
	if filepath.IsAbs(source) || l.fsys != nil {
		return filepath.Clean(source)
	}
	return filepath.Join(l.root, filepath.Clean(source))
}

func (l *Loader) read(source string) ([]byte, error) {
	if l.fsys != nil {
		return fs.ReadFile(l.fsys, filepath.ToSlash(strings.TrimPrefix(filepath.Clean(source), "/")))
	}
	return os.ReadFile(l.Path(source))
}

// Load compiles and evaluates the module in a fresh runtime and returns its
// entry point. Each call produces an independent runtime, so a reload never
// shares state with the previous instance.
func (l *Loader) Load(ctx context.Context, source string) (registry.InitFunc, error) {
	if !Handles(source) {
		return nil, fmt.Errorf("%s: %w", source, registry.ErrNotFound)
	}
	code, err := l.read(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", source, registry.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", source, err)
	}

	prog, err := goja.Compile(source, reExportDefault.ReplaceAllString(string(code), "${1}module.exports.default = "), false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", source, err)
	}

	rt := newRuntime(source, l.budget, l.log.With(logx.String("script", source)))
	module := rt.vm.NewObject()
	exports := rt.vm.NewObject()
	_ = module.Set("exports", exports)
	_ = rt.vm.Set("module", module)
	_ = rt.vm.Set("exports", exports)
	_ = rt.vm.Set("console", rt.console())

	if err := rt.guard(ctx, func() error {
		_, err := rt.vm.RunProgram(prog)
		return err
	}); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", source, err)
	}

	entry, ok := rt.entryPoint(module)
	if !ok {
		return nil, fmt.Errorf("%s: %w", source, registry.ErrNoEntryPoint)
	}

	return func(ctx context.Context, core registry.Core) error {
		if core == nil {
			return fmt.Errorf("%s: no core bound", source)
		}
		obj := rt.bind(core)
		return rt.guard(ctx, func() error {
			v, err := entry(goja.Undefined(), obj)
			if err != nil {
				return err
			}
			return rt.settle(v)
		})
	}, nil
}

func (rt *runtime) entryPoint(module *goja.Object) (goja.Callable, bool) {
	exp := module.Get("exports")
	if exp != nil && !goja.IsUndefined(exp) && !goja.IsNull(exp) {
		if obj := exp.ToObject(rt.vm); obj != nil {
			if fn, ok := goja.AssertFunction(obj.Get("default")); ok {
				return fn, true
			}
		}
		if fn, ok := goja.AssertFunction(exp); ok {
			return fn, true
		}
	}
	if fn, ok := goja.AssertFunction(rt.vm.Get("init")); ok {
		return fn, true
	}
	return nil, false
}
