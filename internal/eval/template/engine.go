package template

import (
	"fmt"
	"sync"

	"github.com/aymerick/raymond"
)

// helpersOnce guards raymond's process-global helper registry: raymond
// panics on a duplicate RegisterHelper call, and Engine is constructed
// once per ServiceInfo (so once per worker and once per test case),
// not once per process.
var helpersOnce sync.Once

// Engine renders the fixed set of __mcrouter__ service-info reports.
// Unlike a general-purpose template renderer, Engine is keyed by report
// name rather than by template source: the introspection surface it
// serves is a closed, built-in set (routes, pools, clients,
// config_digest), never a user-authored template, so callers register
// each report's source once and render it by name from then on.
type Engine struct {
	mu      sync.RWMutex
	sources map[string]string
	cache   map[string]*raymond.Template
}

// NewEngine creates a template engine with no reports registered yet.
func NewEngine() *Engine {
	e := &Engine{
		sources: make(map[string]string),
		cache:   make(map[string]*raymond.Template),
	}
	helpersOnce.Do(registerHelpers)
	return e
}

// RegisterReport associates name with the Handlebars source used to
// render it, compiling lazily on the next RenderReport call.
// Re-registering a name invalidates whatever was cached for it.
func (e *Engine) RegisterReport(name, source string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[name] = source
	delete(e.cache, name)
}

// RenderReport renders the report registered under name against data,
// compiling and caching the template on first use.
func (e *Engine) RenderReport(name string, data interface{}) (string, error) {
	tmpl, err := e.getTemplate(name)
	if err != nil {
		return "", err
	}
	out, err := tmpl.Exec(data)
	if err != nil {
		return "", fmt.Errorf("rendering report %q: %w", name, err)
	}
	return out, nil
}

func (e *Engine) getTemplate(name string) (*raymond.Template, error) {
	e.mu.RLock()
	if tmpl, ok := e.cache[name]; ok {
		e.mu.RUnlock()
		return tmpl, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if tmpl, ok := e.cache[name]; ok {
		return tmpl, nil
	}

	source, ok := e.sources[name]
	if !ok {
		return nil, fmt.Errorf("no report registered for %q", name)
	}

	tmpl, err := raymond.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("report %q: parse error: %w", name, err)
	}

	e.cache[name] = tmpl
	return tmpl, nil
}

// ValidateReport parses source without registering or caching it, so a
// caller can reject a malformed report template up front.
func (e *Engine) ValidateReport(source string) error {
	_, err := raymond.Parse(source)
	return err
}

// registerHelpers installs the Handlebars helpers the built-in reports
// actually use: "yesno" turns a backend client's boolean TKO state into
// the "yes"/"no" text the clients report prints.
func registerHelpers() {
	raymond.RegisterHelper("yesno", func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	})
}
