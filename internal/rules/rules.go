// Package rules holds the inference rule set: production markers, rollback
// patterns, bot identities. The set is loaded once per run and passed
// explicitly into the linker and inference stages; nothing reads it from
// ambient config.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileFormat is the YAML shape of a rules file.
type FileFormat struct {
	ProdEnvironments []string                  `yaml:"prod_environments"`
	RollbackPatterns []string                  `yaml:"rollback_patterns"`
	HotfixPatterns   []string                  `yaml:"hotfix_patterns"`
	BotPatterns      []string                  `yaml:"bot_patterns"`
	Projects         map[string]ProjectRules   `yaml:"projects"`
}

// ProjectRules overrides parts of the global set for one project path.
type ProjectRules struct {
	ProdEnvironments []string `yaml:"prod_environments"`
	RollbackPatterns []string `yaml:"rollback_patterns"`
}

// RuleSet is the compiled, immutable rule value. Construct via Load or
// Default; never mutate after construction.
type RuleSet struct {
	prodEnvs  []string
	rollback  []*regexp.Regexp
	hotfix    []*regexp.Regexp
	bots      []*regexp.Regexp
	overrides map[string]*RuleSet
}

// Default returns the built-in rule set.
func Default() *RuleSet {
	rs, err := compile(FileFormat{
		ProdEnvironments: []string{"prod", "production", "live"},
		RollbackPatterns: []string{`(?i)\brevert\b`, `(?i)\brollback\b`, `(?i)^revert/`},
		HotfixPatterns:   []string{`(?i)^hotfix/`, `(?i)\bhotfix\b`},
		BotPatterns:      []string{`(?i)bot$`, `(?i)^renovate`, `(?i)^dependabot`},
	})
	if err != nil {
		panic(fmt.Sprintf("built-in rules do not compile: %v", err))
	}
	return rs
}

// Load reads a rules file and compiles it, falling back to built-in
// defaults for sections the file omits.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var ff FileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	def := Default()
	if len(ff.ProdEnvironments) == 0 {
		ff.ProdEnvironments = def.prodEnvs
	}
	rs, err := compile(ff)
	if err != nil {
		return nil, err
	}
	if len(ff.RollbackPatterns) == 0 {
		rs.rollback = def.rollback
	}
	if len(ff.HotfixPatterns) == 0 {
		rs.hotfix = def.hotfix
	}
	if len(ff.BotPatterns) == 0 {
		rs.bots = def.bots
	}
	return rs, nil
}

func compile(ff FileFormat) (*RuleSet, error) {
	rs := &RuleSet{
		prodEnvs:  append([]string(nil), ff.ProdEnvironments...),
		overrides: map[string]*RuleSet{},
	}
	var err error
	if rs.rollback, err = compileAll(ff.RollbackPatterns); err != nil {
		return nil, fmt.Errorf("rollback pattern: %w", err)
	}
	if rs.hotfix, err = compileAll(ff.HotfixPatterns); err != nil {
		return nil, fmt.Errorf("hotfix pattern: %w", err)
	}
	if rs.bots, err = compileAll(ff.BotPatterns); err != nil {
		return nil, fmt.Errorf("bot pattern: %w", err)
	}
	for path, pr := range ff.Projects {
		sub := FileFormat{
			ProdEnvironments: pr.ProdEnvironments,
			RollbackPatterns: pr.RollbackPatterns,
		}
		compiled, err := compile(sub)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", path, err)
		}
		rs.overrides[path] = compiled
	}
	return rs, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// ForProject resolves the effective rule set for a project path. Overrides
// replace only the sections they define.
func (r *RuleSet) ForProject(path string) *RuleSet {
	o, ok := r.overrides[path]
	if !ok {
		return r
	}
	eff := *r
	if len(o.prodEnvs) > 0 {
		eff.prodEnvs = o.prodEnvs
	}
	if len(o.rollback) > 0 {
		eff.rollback = o.rollback
	}
	eff.overrides = nil
	return &eff
}

// IsProdEnvironment reports whether an environment name carries a
// production marker.
func (r *RuleSet) IsProdEnvironment(env string) bool {
	if env == "" {
		return false
	}
	lower := strings.ToLower(env)
	for _, marker := range r.prodEnvs {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// MatchesRollback reports whether a ref or commit message looks like a
// revert/rollback.
func (r *RuleSet) MatchesRollback(s string) bool {
	return matchAny(r.rollback, s)
}

// MatchesHotfix reports whether a ref looks like a hotfix branch.
func (r *RuleSet) MatchesHotfix(s string) bool {
	return matchAny(r.hotfix, s)
}

// IsBot reports whether an author identity matches a bot pattern.
func (r *RuleSet) IsBot(author string) bool {
	return matchAny(r.bots, author)
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
