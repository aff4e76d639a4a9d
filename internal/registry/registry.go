package registry

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	logx "multitool/pkg/logx"
)

// Publisher receives tool lifecycle events.
type Publisher interface {
	Publish(name string, data any)
}

// Registry maps capability names to registered tools and loads backing modules
// on demand. Like the timer scheduler it is confined to the frame loop.
type Registry struct {
	log     logx.Logger
	bus     Publisher
	loader  Loader
	bind    Binder
	release func(source string)
	now     func() time.Time

	records map[string]Record
	sources []string

	// loading is the stack of sources whose entry point is running.
	loading []string
	// registered collects names registered by the innermost load.
	registered [][]string
}

type Option func(*Registry)

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }
func WithPublisher(p Publisher) Option  { return func(r *Registry) { r.bus = p } }

func New(loader Loader, opts ...Option) *Registry {
	r := &Registry{
		loader:  loader,
		now:     time.Now,
		records: map[string]Record{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Bind sets the function producing the Core each module's entry point receives.
func (r *Registry) Bind(b Binder) { r.bind = b }

// OnRelease sets a hook run before a source's entry point runs again, so
// whatever the previous run attached (event handlers) can be detached first.
func (r *Registry) OnRelease(fn func(source string)) { r.release = fn }

func (r *Registry) publish(name string, ev ToolEvent) {
	if r.bus != nil {
		r.bus.Publish(name, ev)
	}
}

func (r *Registry) current() string {
	if len(r.loading) == 0 {
		return ""
	}
	return r.loading[len(r.loading)-1]
}

// Register stores t under name, replacing any previous record.
func (r *Registry) Register(name string, t Tool) Record {
	name = strings.TrimSpace(name)
	rec := Record{Name: name, Source: r.current(), Tool: t, RegisteredAt: r.now()}
	if name == "" {
		r.log.Warn("tool registered without a name; ignored", logx.String("source", rec.Source))
		return rec
	}
	if prev, ok := r.records[name]; ok {
		r.log.Debug("tool re-registered", logx.String("tool", name), logx.String("prev_source", prev.Source))
	}
	r.records[name] = rec
	if n := len(r.registered); n > 0 {
		r.registered[n-1] = append(r.registered[n-1], name)
	}
	r.log.Info("tool registered", logx.String("tool", name), logx.String("source", rec.Source), logx.Bool("openable", t.CanOpen()))
	r.publish(EventRegistered, ToolEvent{Name: name, Source: rec.Source})
	return rec
}

// Unregister drops a record; it reports whether one existed.
func (r *Registry) Unregister(name string) bool {
	if _, ok := r.records[name]; !ok {
		return false
	}
	delete(r.records, name)
	return true
}

func (r *Registry) Lookup(name string) (Record, bool) {
	rec, ok := r.records[name]
	return rec, ok
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.records))
	for k := range r.records {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Records returns every record sorted by name.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, name := range r.Names() {
		out = append(out, r.records[name])
	}
	return out
}

// Sources returns the known source locators in the order they were added.
func (r *Registry) Sources() []string { return append([]string(nil), r.sources...) }

// SetSources replaces the known source list (duplicates and blanks dropped).
func (r *Registry) SetSources(sources []string) {
	r.sources = nil
	r.addSources(sources)
}

func (r *Registry) addSources(sources []string) {
	seen := make(map[string]bool, len(r.sources))
	for _, s := range r.sources {
		seen[s] = true
	}
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		r.sources = append(r.sources, s)
	}
}

// LoadAll loads each source in order, one at a time. A failing source is
// logged and recorded; it never stops the batch.
func (r *Registry) LoadAll(ctx context.Context, sources []string) []LoadResult {
	r.addSources(sources)
	r.log.Info("loading tools", logx.Int("sources", len(sources)))

	out := make([]LoadResult, 0, len(sources))
	failed := 0
	for _, src := range sources {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			res := LoadResult{Source: src, Err: err}
			r.log.Warn("tool load skipped", logx.String("source", src), logx.Err(err))
			out = append(out, res)
			failed++
			continue
		}
		res := r.load(ctx, src)
		if res.Err != nil {
			failed++
		}
		out = append(out, res)
	}
	r.log.Info("all tools attempted to load", logx.Int("sources", len(out)), logx.Int("failed", failed), logx.Int("tools", len(r.records)))
	return out
}

// Reload runs a source's entry point again; tools it registers replace the
// previous records.
func (r *Registry) Reload(ctx context.Context, source string) LoadResult {
	r.addSources([]string{source})
	return r.load(ctx, source)
}

func (r *Registry) load(ctx context.Context, src string) LoadResult {
	start := time.Now()
	res := LoadResult{Source: src}

	for _, s := range r.loading {
		if s == src {
			res.Err = fmt.Errorf("%s: already loading", src)
			r.log.Warn("tool load skipped", logx.String("source", src), logx.Err(res.Err))
			return res
		}
	}

	if r.loader == nil {
		res.Err = fmt.Errorf("%s: %w", src, ErrNotFound)
	} else {
		init, err := r.loader.Load(ctx, src)
		switch {
		case err != nil:
			res.Err = err
		case init == nil:
			res.Err = fmt.Errorf("%s: %w", src, ErrNoEntryPoint)
		default:
			res.Tools, res.Err = r.initModule(ctx, src, init)
		}
	}
	res.Took = time.Since(start)

	if res.Err != nil {
		r.log.Warn("tool load failed", logx.String("source", src), logx.Err(res.Err))
		r.publish(EventLoadFailed, ToolEvent{Source: src, Err: res.Err.Error(), TookMS: res.Took.Milliseconds()})
		return res
	}
	r.log.Info("tool loaded", logx.String("source", src), logx.Strings("tools", res.Tools), logx.Duration("took", res.Took))
	r.publish(EventLoaded, ToolEvent{Source: src, Tools: res.Tools, TookMS: res.Took.Milliseconds()})
	return res
}

func (r *Registry) initModule(ctx context.Context, src string, init InitFunc) ([]string, error) {
	r.loading = append(r.loading, src)
	r.registered = append(r.registered, nil)
	defer func() {
		r.loading = r.loading[:len(r.loading)-1]
		r.registered = r.registered[:len(r.registered)-1]
	}()

	if r.release != nil {
		r.release(src)
	}
	var core Core
	if r.bind != nil {
		core = r.bind(src)
	}
	err := r.safeCall("tool.init "+src, func() error { return init(ctx, core) })
	names := append([]string(nil), r.registered[len(r.registered)-1]...)
	return names, err
}

// Open resolves name in two phases: a registered tool with an open operation
// is invoked directly; otherwise a matching source is loaded and the lookup is
// retried exactly once. Every failure comes back as an Outcome.
func (r *Registry) Open(ctx context.Context, name string) Outcome {
	name = strings.TrimSpace(name)
	if rec, ok := r.records[name]; ok && rec.Tool.CanOpen() {
		return r.invoke(ctx, rec)
	}

	src := r.matchSource(name)
	if src == "" {
		out := Outcome{Name: name, Status: StatusNotAvailable, Suggestion: r.suggest(name)}
		r.log.Warn("tool not available", logx.String("tool", name), logx.String("reason", "no source"), logx.String("suggestion", out.Suggestion))
		r.publish(EventOpenFailed, ToolEvent{Name: name, Status: string(out.Status)})
		return out
	}

	res := r.load(ctx, src)
	if rec, ok := r.records[name]; ok && rec.Tool.CanOpen() {
		return r.invoke(ctx, rec)
	}
	// The module may register under a different name than its file.
	if res.Err == nil && len(res.Tools) == 1 {
		if rec, ok := r.records[res.Tools[0]]; ok && rec.Tool.CanOpen() {
			return r.invoke(ctx, rec)
		}
	}

	out := Outcome{Name: name, Status: StatusNotAvailable, Source: src, Err: res.Err}
	if out.Err == nil {
		out.Err = errors.New("tool exposes no open operation")
	}
	r.log.Warn("tool not available", logx.String("tool", name), logx.String("source", src), logx.Err(out.Err))
	r.publish(EventOpenFailed, ToolEvent{Name: name, Source: src, Status: string(out.Status), Err: out.Err.Error()})
	return out
}

func (r *Registry) invoke(ctx context.Context, rec Record) Outcome {
	out := Outcome{Name: rec.Name, Source: rec.Source}
	var result any
	err := r.safeCall("tool.open "+rec.Name, func() error {
		var err error
		result, err = rec.Tool.OpenPanel(ctx)
		return err
	})
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		r.log.Warn("tool open failed", logx.String("tool", rec.Name), logx.Err(err))
		r.publish(EventOpenFailed, ToolEvent{Name: rec.Name, Source: rec.Source, Status: string(out.Status), Err: err.Error()})
		return out
	}
	out.Status = StatusOpened
	out.Result = result
	r.log.Debug("tool opened", logx.String("tool", rec.Name))
	r.publish(EventOpened, ToolEvent{Name: rec.Name, Source: rec.Source, Status: string(out.Status)})
	return out
}

// matchSource finds the known source for name: a "/name" suffix first, then a
// bare suffix. Extensions are ignored.
func (r *Registry) matchSource(name string) string {
	if name == "" {
		return ""
	}
	for _, s := range r.sources {
		if strings.HasSuffix(s, "/"+name) || strings.HasSuffix(stem(s), "/"+name) || stem(s) == name {
			return s
		}
	}
	for _, s := range r.sources {
		if strings.HasSuffix(s, name) || strings.HasSuffix(stem(s), name) {
			return s
		}
	}
	return ""
}

func stem(s string) string { return strings.TrimSuffix(s, path.Ext(s)) }

// suggest returns the closest registered name or source stem, if any is close.
func (r *Registry) suggest(name string) string {
	if name == "" {
		return ""
	}
	cands := r.Names()
	for _, s := range r.sources {
		cands = append(cands, path.Base(stem(s)))
	}
	best, bestDist := "", -1
	for _, c := range cands {
		if c == name {
			continue
		}
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(name)/3) {
		return ""
	}
	return best
}

func (r *Registry) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in tool call",
				logx.String("call", label),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, rec)
		}
	}()
	return fn()
}
