package core

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
)

// Capability names.
//
// This is an operational guardrail only: tool modules run in-process. It is
// enforced by the Scoped view each module receives at load time.
const (
	CapTimerRead      = "timer.read"
	CapTimerWrite     = "timer.write"
	CapEventSubscribe = "events.subscribe"
	CapToolsRegister  = "tools.register"
	CapToolsOpen      = "tools.open"
)

// Capabilities lists every known capability name.
var Capabilities = []string{CapTimerRead, CapTimerWrite, CapEventSubscribe, CapToolsRegister, CapToolsOpen}

var ErrCapabilityDenied = errors.New("capability denied")

func deny(cap string) error {
	return fmt.Errorf("%w: %s", ErrCapabilityDenied, cap)
}

// capSet is an allowlist. Empty means everything is allowed.
type capSet struct {
	allowAll bool
	set      map[string]struct{}
}

func newCapSet(allow []string) capSet {
	if len(allow) == 0 {
		return capSet{allowAll: true}
	}
	m := make(map[string]struct{}, len(allow))
	for _, s := range allow {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		m[s] = struct{}{}
	}
	return capSet{set: m}
}

func (c capSet) allows(cap string) bool {
	if c.allowAll {
		return true
	}
	_, ok := c.set[cap]
	return ok
}

// capPolicy maps module sources to allowlists. It is shared by every Scoped
// view so Update takes effect without reloading modules.
type capPolicy struct {
	mu    sync.RWMutex
	rules map[string]capSet
}

func newCapPolicy(allow map[string][]string) *capPolicy {
	p := &capPolicy{}
	p.Update(allow)
	return p
}

func (p *capPolicy) Update(allow map[string][]string) {
	rules := make(map[string]capSet, len(allow))
	for k, v := range allow {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		rules[k] = newCapSet(v)
	}
	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()
}

// lookup resolves a rule for source by exact match, then base name, then base
// name without extension. Sources without a rule are unrestricted.
func (p *capPolicy) lookup(source string) capSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	base := path.Base(source)
	for _, k := range []string{source, base, strings.TrimSuffix(base, path.Ext(base))} {
		if r, ok := p.rules[k]; ok {
			return r
		}
	}
	return capSet{allowAll: true}
}

func (p *capPolicy) Allows(source, cap string) bool {
	if p == nil || source == "" {
		return true
	}
	return p.lookup(source).allows(cap)
}

func (p *capPolicy) AllowsAny(source string, caps ...string) bool {
	for _, c := range caps {
		if p.Allows(source, c) {
			return true
		}
	}
	return false
}
