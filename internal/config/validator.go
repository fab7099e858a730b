package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ValidationError is one problem found in a configuration.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// coordinatePattern is the "Type.field" shape of cost map keys.
var coordinatePattern = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*\.[_A-Za-z][_0-9A-Za-z]*$`)

var (
	validLogLevels     = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	validLogFormats    = map[string]bool{"": true, "json": true, "console": true}
	validOperationType = map[string]bool{"": true, "query": true, "mutation": true, "subscription": true}
)

// Validator checks a GuardConfig.
type Validator struct {
	errors ValidationErrors
}

// ValidateConfig validates cfg and returns ValidationErrors, or nil.
func ValidateConfig(cfg *GuardConfig) error {
	return (&Validator{}).Validate(cfg)
}

// Validate validates cfg and returns ValidationErrors, or nil.
func (v *Validator) Validate(cfg *GuardConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(cfg)
	v.validateSchema(&cfg.Spec)
	v.validateInlineCosts(cfg.Spec.CostMap.Inline)
	v.validateLimits(&cfg.Spec.Limits, "spec.limits", false)
	v.validateBudget(cfg.Spec.Budget)
	v.validateCache(cfg.Spec.Cache)
	upstreams := v.validateUpstreams(cfg.Spec.Upstreams)
	v.validateRoutes(cfg.Spec.Routes, upstreams)
	v.validateObservability(cfg.Spec.Observability)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateRoot(cfg *GuardConfig) {
	switch {
	case cfg.APIVersion == "":
		v.addError("apiVersion", "apiVersion is required")
	case !strings.HasPrefix(cfg.APIVersion, APIVersionPrefix):
		v.addError("apiVersion", fmt.Sprintf("apiVersion must start with '%s'", APIVersionPrefix))
	}

	switch {
	case cfg.Kind == "":
		v.addError("kind", "kind is required")
	case cfg.Kind != KindGuard:
		v.addError("kind", fmt.Sprintf("kind must be '%s'", KindGuard))
	}

	if cfg.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
	if cfg.Spec.Listen.Address == "" {
		v.addError("spec.listen.address", "listen address is required")
	}
	if cfg.Spec.Listen.MaxBodySize < 0 {
		v.addError("spec.listen.maxBodySize", "maxBodySize cannot be negative")
	}
}

func (v *Validator) validateSchema(spec *GuardSpec) {
	if spec.Schema.Path != "" && spec.Schema.Inline != "" {
		v.addError("spec.schema", "path and inline are mutually exclusive")
	}

	needsSchema := spec.Limits.MaxCost > 0
	for _, r := range spec.Routes {
		if r.Limits != nil && r.Limits.MaxCost > 0 {
			needsSchema = true
		}
	}
	if needsSchema && !spec.Schema.IsSet() {
		v.addError("spec.schema", "a schema is required when a cost limit is configured")
	}
}

func (v *Validator) validateInlineCosts(costs map[string]int64) {
	for _, e := range costMapErrors(costs) {
		v.addError("spec.costMap.inline."+e.Path, e.Message)
	}
}

func (v *Validator) validateLimits(l *Limits, path string, isRoute bool) {
	if !isRoute {
		if l.MaxDepth < 0 {
			v.addError(path+".maxDepth", "maxDepth cannot be negative")
		}
		if l.MaxCost < 0 {
			v.addError(path+".maxCost", "maxCost cannot be negative")
		}
	}
	if l.MaxRecursion < 0 {
		v.addError(path+".maxRecursion", "maxRecursion cannot be negative")
	}
	switch l.MissingOperation {
	case "", MissingOperationReject, MissingOperationAllow:
	default:
		v.addError(path+".missingOperation", "missingOperation must be 'reject' or 'allow'")
	}
}

func (v *Validator) validateBudget(b *BudgetConfig) {
	if b == nil || !b.Enabled {
		return
	}
	if b.CostPerSecond <= 0 {
		v.addError("spec.budget.costPerSecond", "costPerSecond must be positive")
	}
	if b.Burst <= 0 {
		v.addError("spec.budget.burst", "burst must be positive")
	}
}

func (v *Validator) validateCache(c *CacheConfig) {
	if c == nil || !c.Enabled {
		return
	}
	switch c.Type {
	case CacheTypeMemory:
		if c.MaxEntries < 0 {
			v.addError("spec.cache.maxEntries", "maxEntries cannot be negative")
		}
	case CacheTypeRedis:
		if c.Redis == nil || c.Redis.URL == "" {
			v.addError("spec.cache.redis.url", "redis url is required for the redis cache")
			return
		}
		if _, err := url.Parse(c.Redis.URL); err != nil {
			v.addError("spec.cache.redis.url", err.Error())
		}
		if c.Redis.TTLJitter < 0 || c.Redis.TTLJitter > 1 {
			v.addError("spec.cache.redis.ttlJitter", "ttlJitter must be between 0 and 1")
		}
	default:
		v.addError("spec.cache.type", "cache type must be 'memory' or 'redis'")
	}
}

func (v *Validator) validateUpstreams(upstreams []Upstream) map[string]bool {
	names := make(map[string]bool, len(upstreams))

	for i := range upstreams {
		u := &upstreams[i]
		path := fmt.Sprintf("spec.upstreams[%d]", i)

		switch {
		case u.Name == "":
			v.addError(path+".name", "upstream name is required")
		case names[u.Name]:
			v.addError(path+".name", fmt.Sprintf("duplicate upstream name: %s", u.Name))
		default:
			names[u.Name] = true
		}

		if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
			v.addError(path+".scheme", "scheme must be 'http' or 'https'")
		}
		if len(u.Hosts) == 0 {
			v.addError(path+".hosts", "at least one host is required")
		}
		for j, h := range u.Hosts {
			hostPath := fmt.Sprintf("%s.hosts[%d]", path, j)
			if h.Address == "" {
				v.addError(hostPath+".address", "address is required")
			}
			if h.Port < 1 || h.Port > 65535 {
				v.addError(hostPath+".port", fmt.Sprintf("port %d out of range 1-65535", h.Port))
			}
		}
		if u.Timeout < 0 {
			v.addError(path+".timeout", "timeout cannot be negative")
		}
		if cb := u.CircuitBreaker; cb != nil && cb.Enabled && cb.Threshold <= 0 {
			v.addError(path+".circuitBreaker.threshold", "threshold must be positive")
		}
	}
	return names
}

func (v *Validator) validateRoutes(routes []Route, upstreams map[string]bool) {
	names := make(map[string]bool, len(routes))

	for i := range routes {
		r := &routes[i]
		path := fmt.Sprintf("spec.routes[%d]", i)

		switch {
		case r.Name == "":
			v.addError(path+".name", "route name is required")
		case names[r.Name]:
			v.addError(path+".name", fmt.Sprintf("duplicate route name: %s", r.Name))
		default:
			names[r.Name] = true
		}

		if r.Upstream != "" && !upstreams[r.Upstream] {
			v.addError(path+".upstream", fmt.Sprintf("unknown upstream: %s", r.Upstream))
		}
		if r.Upstream == "" && len(upstreams) > 0 {
			v.addError(path+".upstream", "upstream is required when upstreams are configured")
		}
		if r.Limits != nil {
			v.validateLimits(r.Limits, path+".limits", true)
		}

		for j := range r.Match {
			v.validateMatch(&r.Match[j], fmt.Sprintf("%s.match[%d]", path, j))
		}
	}
}

func (v *Validator) validateMatch(m *RouteMatch, path string) {
	if !validOperationType[strings.ToLower(m.OperationType)] {
		v.addError(path+".operationType", "operationType must be query, mutation or subscription")
	}
	v.validateStringMatch(m.Path, path+".path")
	v.validateStringMatch(m.OperationName, path+".operationName")

	for i, h := range m.Headers {
		hp := fmt.Sprintf("%s.headers[%d]", path, i)
		if h.Name == "" {
			v.addError(hp+".name", "header name is required")
		}
		v.validateRegex(h.Regex, hp+".regex")
	}
}

func (v *Validator) validateStringMatch(sm *StringMatch, path string) {
	if sm == nil {
		return
	}
	set := 0
	for _, s := range []string{sm.Exact, sm.Prefix, sm.Regex} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		v.addError(path, "only one of exact, prefix or regex may be set")
	}
	v.validateRegex(sm.Regex, path+".regex")
}

func (v *Validator) validateRegex(expr, path string) {
	if expr == "" {
		return
	}
	if _, err := regexp.Compile(expr); err != nil {
		v.addError(path, fmt.Sprintf("invalid regex: %v", err))
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	if o == nil {
		return
	}
	if l := o.Logging; l != nil {
		if !validLogLevels[l.Level] {
			v.addError("spec.observability.logging.level", "level must be debug, info, warn or error")
		}
		if !validLogFormats[l.Format] {
			v.addError("spec.observability.logging.format", "format must be json or console")
		}
	}
	if t := o.Tracing; t != nil && (t.SamplingRate < 0 || t.SamplingRate > 1) {
		v.addError("spec.observability.tracing.samplingRate", "samplingRate must be between 0 and 1")
	}
}

// ValidateCostMap checks that every key is a "Type.field" coordinate and
// every weight is non-negative.
func ValidateCostMap(costs map[string]int64) error {
	errs := costMapErrors(costs)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func costMapErrors(costs map[string]int64) ValidationErrors {
	keys := make([]string, 0, len(costs))
	for k := range costs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs ValidationErrors
	for _, k := range keys {
		if !coordinatePattern.MatchString(k) {
			errs = append(errs, ValidationError{Path: k, Message: "key must have the form Type.field"})
		}
		if costs[k] < 0 {
			errs = append(errs, ValidationError{Path: k, Message: "weight cannot be negative"})
		}
	}
	return errs
}
