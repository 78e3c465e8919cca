// Package config loads and validates the .archsync/rules.yaml configuration
// that drives extraction scoping, layering, interface inference and the rule
// gate. A malformed configuration is a fatal error surfaced before any
// extraction or build starts.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LayerRule maps module path patterns to a layer name.
type LayerRule struct {
	Name  string   `yaml:"name"`
	Match []string `yaml:"match"`
}

// InterfaceRule recognizes interface usage by line pattern and labels it with
// a protocol and direction.
type InterfaceRule struct {
	Pattern   string `yaml:"pattern"`
	Protocol  string `yaml:"protocol"`
	Direction string `yaml:"direction"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern. Compilation happens at load time, so a
// loaded config always carries valid patterns.
func (r *InterfaceRule) Regexp() *regexp.Regexp { return r.re }

// ForbiddenDependency denies edges whose endpoints match the from/to patterns
// (glob over module name or layer name).
type ForbiddenDependency struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Severity string `yaml:"severity"`
}

// Constraints holds the structural rules the rule engine evaluates.
type Constraints struct {
	LayerOrder            []string              `yaml:"layer_order"`
	ForbiddenDependencies []ForbiddenDependency `yaml:"forbidden_dependencies"`
	LayerOrderSeverity    string                `yaml:"layer_order_severity"`
	CycleSeverity         string                `yaml:"cycle_severity"`
}

// LLM configures the optional enrichment boundary. Enrichment only attaches
// names and summaries; it never alters model structure.
type LLM struct {
	Enabled     bool    `yaml:"enabled"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
}

// Output controls where artifacts are written.
type Output struct {
	Dir string `yaml:"dir"`
}

// Config is the full rules configuration.
type Config struct {
	SystemName   string          `yaml:"system_name"`
	ModuleDepth  int             `yaml:"module_depth"`
	Include      []string        `yaml:"include"`
	Exclude      []string        `yaml:"exclude"`
	Layers       []LayerRule     `yaml:"layers"`
	DefaultLayer string          `yaml:"default_layer"`
	Interfaces   []InterfaceRule `yaml:"interfaces"`
	Constraints  Constraints     `yaml:"constraints"`
	LLM          LLM             `yaml:"llm"`
	Output       Output          `yaml:"output"`
	FailOn       string          `yaml:"fail_on"`
}

// Default returns a Config with sensible defaults for a mixed-language repo.
func Default() *Config {
	cfg := &Config{
		SystemName:  "System",
		ModuleDepth: 2,
		Include: []string{
			"**/*.go",
			"**/*.py",
			"**/*.{ts,tsx,js,jsx}",
			"**/*.{c,cc,cpp,h,hpp}",
			"**/*.rb",
		},
		Exclude: []string{
			"**/.git/**",
			"**/node_modules/**",
			"**/vendor/**",
			"**/.venv/**",
			"**/__pycache__/**",
			"**/.archsync/**",
			"**/*_test.go",
			"**/*.test.ts",
			"**/*.spec.ts",
		},
		DefaultLayer: "Misc",
		Interfaces: []InterfaceRule{
			{Pattern: `(?i)(@app\.(get|post|put|delete|patch)|router\.(get|post|put|delete|patch)|@(Get|Post|Put|Delete|Patch)Mapping)`, Protocol: "HTTP", Direction: "in"},
			{Pattern: `(?i)(fetch\(|axios\.|http\.Get|requests\.(get|post))`, Protocol: "HTTP", Direction: "out"},
		},
		Constraints: Constraints{
			LayerOrderSeverity: "medium",
			CycleSeverity:      "critical",
		},
		LLM:    LLM{Provider: "genai"},
		Output: Output{Dir: ".archsync"},
		FailOn: "high",
	}
	if err := cfg.validate(); err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads and validates a configuration file. Missing fields are filled
// with defaults. Any failure here is configuration-fatal to the caller.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading rules config %s: %w", filename, err)
	}
	return Parse(data, filename)
}

// Parse decodes and validates raw yaml configuration bytes.
func Parse(data []byte, source string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing rules config %s: %w", source, err)
	}

	if cfg.ModuleDepth <= 0 {
		cfg.ModuleDepth = 2
	}
	if cfg.DefaultLayer == "" {
		cfg.DefaultLayer = "Misc"
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = ".archsync"
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid rules config %s: %w", source, err)
	}
	return cfg, nil
}

// validate compiles interface patterns and checks constraint sanity. A layer
// name listed twice in layer_order declares a cyclic ordering and is
// rejected, as is an order entry naming no declared layer.
func (c *Config) validate() error {
	for i := range c.Interfaces {
		rule := &c.Interfaces[i]
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("interface pattern %q: %w", rule.Pattern, err)
		}
		rule.re = re
		if rule.Protocol == "" {
			rule.Protocol = "UNKNOWN"
		}
		if rule.Direction == "" {
			rule.Direction = "bidir"
		}
	}

	declared := map[string]bool{c.DefaultLayer: true}
	for _, layer := range c.Layers {
		if layer.Name == "" {
			return fmt.Errorf("layer rule with empty name")
		}
		declared[layer.Name] = true
	}

	seen := make(map[string]bool, len(c.Constraints.LayerOrder))
	for _, name := range c.Constraints.LayerOrder {
		if seen[name] {
			return fmt.Errorf("layer_order lists %q twice: cyclic layer order", name)
		}
		seen[name] = true
		if !declared[name] {
			return fmt.Errorf("layer_order names undeclared layer %q", name)
		}
	}

	for _, sev := range []string{c.Constraints.LayerOrderSeverity, c.Constraints.CycleSeverity, c.FailOn} {
		if sev != "" && !validSeverity(sev) {
			return fmt.Errorf("unknown severity %q", sev)
		}
	}
	for _, fd := range c.Constraints.ForbiddenDependencies {
		if fd.From == "" || fd.To == "" {
			return fmt.Errorf("forbidden_dependencies entry needs both from and to")
		}
		if fd.Severity != "" && !validSeverity(fd.Severity) {
			return fmt.Errorf("forbidden dependency %s -> %s: unknown severity %q", fd.From, fd.To, fd.Severity)
		}
	}
	return nil
}

func validSeverity(s string) bool {
	switch strings.ToLower(s) {
	case "none", "low", "medium", "high", "critical":
		return true
	}
	return false
}

// LayerFor returns the layer name for a module path, falling back to the
// default layer when no pattern matches. Unmatched modules are still
// classified, never dropped.
func (c *Config) LayerFor(relPath string) string {
	for _, layer := range c.Layers {
		if PathMatches(relPath, layer.Match) {
			return layer.Name
		}
	}
	return c.DefaultLayer
}

// Included reports whether a path is inside the extraction scope.
func (c *Config) Included(relPath string) bool {
	return PathMatches(relPath, c.Include) && !PathMatches(relPath, c.Exclude)
}

// Hash returns a content hash over the structurally relevant configuration,
// so a model hash can be a pure function of (snapshot hash, rules hash). The
// LLM and output blocks are excluded: they never affect model structure.
func (c *Config) Hash() string {
	var b strings.Builder
	b.WriteString(c.SystemName)
	fmt.Fprintf(&b, "|depth=%d", c.ModuleDepth)
	writeSorted := func(tag string, items []string) {
		sorted := append([]string(nil), items...)
		sort.Strings(sorted)
		b.WriteString("|" + tag + "=" + strings.Join(sorted, ","))
	}
	writeSorted("include", c.Include)
	writeSorted("exclude", c.Exclude)
	for _, layer := range c.Layers {
		b.WriteString("|layer=" + layer.Name + ":" + strings.Join(layer.Match, ","))
	}
	b.WriteString("|default=" + c.DefaultLayer)
	for _, rule := range c.Interfaces {
		b.WriteString("|iface=" + rule.Pattern + ":" + rule.Protocol + ":" + rule.Direction)
	}
	b.WriteString("|order=" + strings.Join(c.Constraints.LayerOrder, ","))
	b.WriteString("|ordersev=" + c.Constraints.LayerOrderSeverity)
	b.WriteString("|cyclesev=" + c.Constraints.CycleSeverity)
	for _, fd := range c.Constraints.ForbiddenDependencies {
		b.WriteString("|forbid=" + fd.From + ">" + fd.To + ":" + fd.Severity)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// PathMatches reports whether a slash-separated relative path matches any of
// the glob patterns. Patterns support ** for any number of path segments and
// one level of {a,b} alternation.
func PathMatches(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		for _, p := range expandBraces(pattern) {
			if matchSegments(strings.Split(p, "/"), strings.Split(relPath, "/")) {
				return true
			}
		}
	}
	return false
}

// expandBraces expands {a,b} alternation in a glob pattern.
func expandBraces(pattern string) []string {
	open := strings.Index(pattern, "{")
	if open < 0 {
		return []string{pattern}
	}
	end := strings.Index(pattern[open:], "}")
	if end < 0 {
		return []string{pattern}
	}
	end += open
	var out []string
	for _, option := range strings.Split(pattern[open+1:end], ",") {
		out = append(out, expandBraces(pattern[:open]+strings.TrimSpace(option)+pattern[end+1:])...)
	}
	return out
}

func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], parts) {
			return true
		}
		if len(parts) == 0 {
			return false
		}
		return matchSegments(pat, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	if ok, err := path.Match(pat[0], parts[0]); err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], parts[1:])
}
