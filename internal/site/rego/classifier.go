package rego

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/goodtune/shortmeter/internal/metrics"
	"github.com/goodtune/shortmeter/internal/site"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Query is the rule every classification policy must define.
const Query = "data.shortmeter.classify.result"

// DefaultCacheSize bounds the memoised results when no size is configured.
const DefaultCacheSize = 256

//go:embed classify.rego
var defaultPolicy string

// Config holds policy classifier settings
type Config struct {
	PolicyDir string // empty selects the embedded policy
	CacheSize int
}

// Classifier evaluates a rego policy to classify locations
type Classifier struct {
	config Config
	logger zerolog.Logger

	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	modules map[string]*ast.Module

	cache *lru.Cache[string, site.Result]
}

// New loads and prepares the classification policy
func New(config Config, logger zerolog.Logger) (*Classifier, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, site.Result](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier cache: %w", err)
	}

	c := &Classifier{
		config: config,
		logger: logger.With().Str("component", "rego-classifier").Logger(),
		cache:  cache,
	}

	if err := c.Reload(); err != nil {
		return nil, err
	}

	return c, nil
}

// Reload re-reads the policy and clears cached results
func (c *Classifier) Reload() error {
	modules, err := c.loadModules()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(Query)}
	for name, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
		c.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare classify query: %w", err)
	}

	c.mu.Lock()
	c.query = query
	c.modules = modules
	c.mu.Unlock()
	c.cache.Purge()

	c.logger.Info().Int("modules", len(modules)).Str("policy_dir", c.config.PolicyDir).Msg("Classifier policy loaded")

	return nil
}

// loadModules parses the policy directory or the embedded default
func (c *Classifier) loadModules() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	if c.config.PolicyDir == "" {
		module, err := ast.ParseModule("classify.rego", defaultPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedded policy: %w", err)
		}
		modules["classify.rego"] = module
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(c.config.PolicyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", c.config.PolicyDir)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}
		modules[file] = module
	}

	return modules, nil
}

// Classify implements site.Classifier. Evaluation errors classify as not
// short-form and are cached like any other result, so a broken policy logs
// once per location until the next Reload.
func (c *Classifier) Classify(loc site.Location) site.Result {
	key := loc.Hostname + "\x00" + loc.Pathname + "\x00" + loc.Href

	if result, ok := c.cache.Get(key); ok {
		metrics.ClassifierCacheHits.Inc()
		return result
	}
	metrics.ClassifierCacheMisses.Inc()

	result, err := c.Evaluate(context.Background(), loc)
	if err != nil {
		c.logger.Warn().Err(err).Str("hostname", loc.Hostname).Msg("Classification failed")
		result = site.Result{}
	}

	c.cache.Add(key, result)
	return result
}

// Evaluate runs the policy for one location without caching
func (c *Classifier) Evaluate(ctx context.Context, loc site.Location) (site.Result, error) {
	startTime := time.Now()

	c.mu.RLock()
	query := c.query
	c.mu.RUnlock()

	input := map[string]interface{}{
		"hostname": loc.Hostname,
		"pathname": loc.Pathname,
		"href":     loc.Href,
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return site.Result{}, fmt.Errorf("classify query evaluation failed: %w", err)
	}

	c.logger.Debug().Dur("duration", time.Since(startTime)).Msg("Classify query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return site.Result{}, fmt.Errorf("no results from classify query")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return site.Result{}, fmt.Errorf("failed to marshal classify result: %w", err)
	}

	var result site.Result
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return site.Result{}, fmt.Errorf("failed to unmarshal classify result: %w", err)
	}

	// TikTok-like only has meaning for short-form pages
	if !result.ShortForm {
		result.TikTokLike = false
	}

	return result, nil
}

// Modules returns the names of the loaded policy modules
func (c *Classifier) Modules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of cached results
func (c *Classifier) Len() int {
	return c.cache.Len()
}
