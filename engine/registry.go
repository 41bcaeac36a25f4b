package engine

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/isdmx/codearena/apperr"
)

// Registry maps language identifiers to engines. It is built once by the
// service root and handed to its consumers. Reads are lock-free; the rare
// Register/Unregister calls swap in a new copy of the table.
type Registry struct {
	engines atomic.Pointer[map[string]Engine]
	writeMu sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]Engine{}
	r.engines.Store(&empty)
	return r
}

func canonical(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}

// Register adds or replaces the engine for language.
func (r *Registry) Register(language string, e Engine) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.engines.Load()
	next := make(map[string]Engine, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[canonical(language)] = e
	r.engines.Store(&next)
}

// Unregister removes the engine for language and returns it, if present.
func (r *Registry) Unregister(language string) (Engine, bool) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.engines.Load()
	key := canonical(language)
	e, ok := current[key]
	if !ok {
		return nil, false
	}
	next := make(map[string]Engine, len(current))
	for k, v := range current {
		if k != key {
			next[k] = v
		}
	}
	r.engines.Store(&next)
	return e, true
}

// Get returns the engine for language.
func (r *Registry) Get(language string) (Engine, bool) {
	e, ok := (*r.engines.Load())[canonical(language)]
	return e, ok
}

// Has reports whether an engine is registered for language.
func (r *Registry) Has(language string) bool {
	_, ok := r.Get(language)
	return ok
}

// Languages returns the registered language keys.
func (r *Registry) Languages() mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for k := range *r.engines.Load() {
		set.Add(k)
	}
	return set
}

// SortedLanguages returns the registered language keys in lexical order.
func (r *Registry) SortedLanguages() []string {
	langs := r.Languages().ToSlice()
	sort.Strings(langs)
	return langs
}

// Lookup is Get with the caller-facing error: an unknown language is an
// unsupported-language validation error listing what is registered.
func (r *Registry) Lookup(language string) (Engine, error) {
	if e, ok := r.Get(language); ok {
		return e, nil
	}
	return nil, UnsupportedLanguage(language, r.SortedLanguages())
}

// UnsupportedLanguage builds the error reported for an unknown language.
func UnsupportedLanguage(language string, supported []string) error {
	return apperr.Validation(apperr.RuleUnsupportedLanguage,
		"unsupported language \""+language+"\"; supported languages: "+strings.Join(supported, ", "),
		supported...)
}

// Cleanup calls Cleanup on every registered engine and joins the errors.
func (r *Registry) Cleanup() error {
	var errs []error
	for _, e := range *r.engines.Load() {
		if err := e.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
