// Package opa authorizes engine operations with a rego policy. The default
// policy grants a contractor an operation when every requested permission
// (or the "*" wildcard) is listed under data.grants[contractor.id].
package opa

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/chronos/internal/metrics"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"
)

//go:embed authz.rego
var defaultPolicy string

const allowQuery = "data.chronos.authz.allow"

// Config configures the authorizer.
type Config struct {
	// PolicyDir holds .rego files replacing the embedded policy. Empty
	// selects the embedded policy.
	PolicyDir string
	Grants    map[string][]string
	CacheSize int
	CacheTTL  time.Duration
}

// Authorizer evaluates the prepared allow query and caches verdicts.
type Authorizer struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.RWMutex
	query  rego.PreparedEvalQuery
	grants map[string][]string

	cache *expirable.LRU[string, bool]
}

// New loads the policy and prepares the allow query.
func New(cfg Config, logger zerolog.Logger) (*Authorizer, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}

	a := &Authorizer{
		cfg:    cfg,
		logger: logger.With().Str("component", "opa").Logger(),
		grants: cfg.Grants,
		cache:  expirable.NewLRU[string, bool](cfg.CacheSize, nil, cfg.CacheTTL),
	}

	if err := a.prepare(context.Background()); err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("policy_dir", cfg.PolicyDir).
		Int("contractors", len(cfg.Grants)).
		Msg("OPA authorizer initialized")
	return a, nil
}

// Allowed implements permission.Authorizer.
func (a *Authorizer) Allowed(ctx context.Context, contractor permission.Contractor, perms ...permission.Permission) (bool, error) {
	if contractor.Bypass {
		return true, nil
	}

	names := permission.Strings(perms)
	key := contractor.ID + "|" + strings.Join(names, ",")
	if verdict, ok := a.cache.Get(key); ok {
		metrics.AuthzCacheHits.Inc()
		return verdict, nil
	}
	metrics.AuthzCacheMisses.Inc()

	input := map[string]interface{}{
		"contractor": map[string]interface{}{
			"id":     contractor.ID,
			"bypass": contractor.Bypass,
		},
		"permissions": names,
	}

	a.mu.RLock()
	prepared := a.query
	a.mu.RUnlock()

	startTime := time.Now()
	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("authorization query evaluation failed: %w", err)
	}
	a.logger.Debug().
		Str("contractor", contractor.ID).
		Strs("permissions", names).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Authorization query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, fmt.Errorf("no results from authorization query")
	}

	verdict, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("authorization result is not a boolean: %T", results[0].Expressions[0].Value)
	}

	a.cache.Add(key, verdict)
	return verdict, nil
}

// SetGrants replaces the grant table and re-prepares the query.
func (a *Authorizer) SetGrants(grants map[string][]string) error {
	a.mu.Lock()
	a.grants = grants
	a.mu.Unlock()
	return a.Reload()
}

// Reload re-reads the policy files, re-prepares the query and drops every
// cached verdict.
func (a *Authorizer) Reload() error {
	a.logger.Info().Msg("Reloading authorization policy")

	if err := a.prepare(context.Background()); err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	a.cache.Purge()
	return nil
}

func (a *Authorizer) prepare(ctx context.Context) error {
	modules, err := a.loadModules()
	if err != nil {
		return err
	}

	a.mu.RLock()
	data := grantsData(a.grants)
	a.mu.RUnlock()

	opts := []func(*rego.Rego){
		rego.Query(allowQuery),
		rego.Store(inmem.NewFromObject(data)),
	}
	for name, source := range modules {
		opts = append(opts, rego.Module(name, source))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare authorization query: %w", err)
	}

	a.mu.Lock()
	a.query = prepared
	a.mu.Unlock()
	return nil
}

// loadModules returns the embedded policy, or every .rego file of PolicyDir
// when one is configured. Sources are parsed up front so a broken file is
// reported by name.
func (a *Authorizer) loadModules() (map[string]string, error) {
	modules := make(map[string]string)

	if a.cfg.PolicyDir == "" {
		if _, err := ast.ParseModule("authz.rego", defaultPolicy); err != nil {
			return nil, fmt.Errorf("failed to parse embedded policy: %w", err)
		}
		modules["authz.rego"] = defaultPolicy
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(a.cfg.PolicyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", a.cfg.PolicyDir)
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

		modules[file] = string(content)
		a.logger.Debug().Str("file", file).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}
	return modules, nil
}

func grantsData(grants map[string][]string) map[string]interface{} {
	table := make(map[string]interface{}, len(grants))
	for id, perms := range grants {
		list := make([]interface{}, 0, len(perms))
		for _, p := range perms {
			list = append(list, p)
		}
		table[id] = list
	}
	return map[string]interface{}{"grants": table}
}
