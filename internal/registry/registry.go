// Package registry maps plugin names from site configuration to constructed
// plugin instances.
package registry

import (
	"sort"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// Factories build plugins scoped to one site run. Fetchers in particular
// carry per-run retry counters and must not be shared across runs.
type (
	FetcherFactory     func(site scraper.WebsiteConfig) (scraper.Fetcher, error)
	ParserFactory      func(site scraper.WebsiteConfig) (scraper.Parser, error)
	TransformerFactory func(site scraper.WebsiteConfig) (scraper.Transformer, error)
	StorageFactory     func(site scraper.WebsiteConfig) (scraper.Storage, error)
)

// Registry holds the named plugin constructors the orchestrator resolves
// site configs against. Registration happens once at startup; Resolve is
// safe for concurrent use afterwards.
type Registry struct {
	fetchers     map[string]FetcherFactory
	parsers      map[string]ParserFactory
	transformers map[string]TransformerFactory
	storages     map[string]StorageFactory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		fetchers:     map[string]FetcherFactory{},
		parsers:      map[string]ParserFactory{},
		transformers: map[string]TransformerFactory{},
		storages:     map[string]StorageFactory{},
	}
}

// RegisterFetcher adds a named fetcher constructor.
func (r *Registry) RegisterFetcher(name string, factory FetcherFactory) {
	r.fetchers[name] = factory
}

// RegisterParser adds a named parser constructor.
func (r *Registry) RegisterParser(name string, factory ParserFactory) {
	r.parsers[name] = factory
}

// RegisterTransformer adds a named transformer constructor.
func (r *Registry) RegisterTransformer(name string, factory TransformerFactory) {
	r.transformers[name] = factory
}

// RegisterStorage adds a named storage constructor.
func (r *Registry) RegisterStorage(name string, factory StorageFactory) {
	r.storages[name] = factory
}

// Plugins is the resolved plugin set for one site run.
type Plugins struct {
	Fetcher     scraper.Fetcher
	Parser      scraper.Parser
	Transformer scraper.Transformer
	Storages    []scraper.Storage
}

// Resolve builds the full plugin set a site names. Any unknown plugin name
// or failing constructor yields a ConfigError so the job never starts.
func (r *Registry) Resolve(site scraper.WebsiteConfig) (Plugins, error) {
	var plugins Plugins

	fetcherFactory, ok := r.fetchers[site.Fetcher]
	if !ok {
		return Plugins{}, scraper.NewConfigError(site.Name, "unknown fetcher %q (have %v)", site.Fetcher, keys(r.fetchers))
	}
	parserFactory, ok := r.parsers[site.Parser]
	if !ok {
		return Plugins{}, scraper.NewConfigError(site.Name, "unknown parser %q (have %v)", site.Parser, keys(r.parsers))
	}
	transformerFactory, ok := r.transformers[site.Transformer]
	if !ok {
		return Plugins{}, scraper.NewConfigError(site.Name, "unknown transformer %q (have %v)", site.Transformer, keys(r.transformers))
	}
	if len(site.StorageBackends) == 0 {
		return Plugins{}, scraper.NewConfigError(site.Name, "no storage backends configured")
	}

	var err error
	if plugins.Fetcher, err = fetcherFactory(site); err != nil {
		return Plugins{}, scraper.NewConfigError(site.Name, "build fetcher %q: %v", site.Fetcher, err)
	}
	if plugins.Parser, err = parserFactory(site); err != nil {
		return Plugins{}, scraper.NewConfigError(site.Name, "build parser %q: %v", site.Parser, err)
	}
	if plugins.Transformer, err = transformerFactory(site); err != nil {
		return Plugins{}, scraper.NewConfigError(site.Name, "build transformer %q: %v", site.Transformer, err)
	}
	for _, name := range site.StorageBackends {
		storageFactory, ok := r.storages[name]
		if !ok {
			return Plugins{}, scraper.NewConfigError(site.Name, "unknown storage backend %q (have %v)", name, keys(r.storages))
		}
		storage, err := storageFactory(site)
		if err != nil {
			return Plugins{}, scraper.NewConfigError(site.Name, "build storage %q: %v", name, err)
		}
		plugins.Storages = append(plugins.Storages, storage)
	}
	return plugins, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
