// Package redact decides, per resource type and property name, whether a
// value may appear in diagnostic output. It is consulted only when
// rendering events and responses for logging; the payload transmitted to
// CloudFormation is never altered.
package redact

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/a69/cfn.go/cfn"
)

// Placeholder substitutes redacted property values in diagnostic output.
const Placeholder = "[REDACTED]"

// Mode selects how rule set matches translate into visibility.
type Mode int

const (
	// Blocklist redacts every property selected by an applying rule set.
	Blocklist Mode = iota
	// Allowlist redacts everything except the selected properties.
	Allowlist
)

// ErrConflictingRuleSet indicates two rule sets were registered for the
// same resource type pattern.
var ErrConflictingRuleSet = errors.New("redact: a rule set is already registered for this resource pattern")

// RuleSet pairs a resource type pattern with the property selectors that
// apply to resource types matching it.
type RuleSet struct {
	expr       string
	resource   *regexp.Regexp
	properties []*regexp.Regexp
}

// NewRuleSet compiles a rule set for resource types matching resourceExpr.
// An empty expression matches every resource type.
func NewRuleSet(resourceExpr string) (*RuleSet, error) {
	if resourceExpr == "" {
		resourceExpr = "^.*$"
	}
	re, err := regexp.Compile(resourceExpr)
	if err != nil {
		return nil, fmt.Errorf("redact: compiling resource pattern: %w", err)
	}
	return &RuleSet{expr: resourceExpr, resource: re}, nil
}

// AddProperty selects exactly the property called name.
func (rs *RuleSet) AddProperty(name string) {
	rs.properties = append(rs.properties, regexp.MustCompile("^"+regexp.QuoteMeta(name)+"$"))
}

// AddPattern selects every property matching expr.
func (rs *RuleSet) AddPattern(expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("redact: compiling property pattern: %w", err)
	}
	rs.properties = append(rs.properties, re)
	return nil
}

func (rs *RuleSet) applies(resourceType string) bool {
	return rs.resource.MatchString(resourceType)
}

func (rs *RuleSet) selects(property string) bool {
	for _, re := range rs.properties {
		if re.MatchString(property) {
			return true
		}
	}
	return false
}

// Config is an ordered collection of rule sets plus the mode that decides
// what a selection means. It is built once at startup and shared, read
// only, across invocations.
type Config struct {
	mode      Mode
	redactURL bool
	sets      []*RuleSet
	byExpr    map[string]struct{}
}

// ConfigOption sets an optional parameter on a Config under construction.
type ConfigOption func(*Config)

// WithMode selects blocklist or allowlist behavior. Blocklist is the
// default.
func WithMode(m Mode) ConfigOption {
	return func(c *Config) { c.mode = m }
}

// WithRedactResponseURL scrubs the pre-signed callback URL from diagnostic
// output, preventing out of band responses. Recommended for production.
func WithRedactResponseURL() ConfigOption {
	return func(c *Config) { c.redactURL = true }
}

// NewConfig constructs an empty redaction configuration.
func NewConfig(options ...ConfigOption) *Config {
	c := &Config{byExpr: map[string]struct{}{}}
	for _, option := range options {
		option(c)
	}
	return c
}

// NewStandaloneConfig constructs a configuration constrained to exactly
// one rule set.
func NewStandaloneConfig(set *RuleSet, options ...ConfigOption) (*Config, error) {
	c := NewConfig(options...)
	if err := c.AddRuleSet(set); err != nil {
		return nil, err
	}
	return c, nil
}

// AddRuleSet appends a rule set. Registering two rule sets for the same
// resource pattern is a configuration error.
func (c *Config) AddRuleSet(set *RuleSet) error {
	if set == nil {
		return errors.New("redact: nil rule set")
	}
	if _, ok := c.byExpr[set.expr]; ok {
		return fmt.Errorf("%w: %s", ErrConflictingRuleSet, set.expr)
	}
	c.byExpr[set.expr] = struct{}{}
	c.sets = append(c.sets, set)
	return nil
}

// RedactResponseURL reports whether the callback URL must be scrubbed from
// diagnostic output.
func (c *Config) RedactResponseURL() bool {
	return c.redactURL
}

// Visible reports whether the named property of the given resource type
// may appear in diagnostic output. Selections from every applying rule set
// are unioned before the mode is applied: in blocklist mode a selected
// property is redacted, in allowlist mode only selected properties remain
// visible.
func (c *Config) Visible(resourceType, property string) bool {
	selected := false
	for _, set := range c.sets {
		if !set.applies(resourceType) {
			continue
		}
		if set.selects(property) {
			selected = true
			break
		}
	}
	if c.mode == Allowlist {
		return selected
	}
	return !selected
}

// FilterEvent returns a copy of the event fit for diagnostic output:
// redacted property values are replaced with Placeholder and the callback
// URL is blanked when so configured. The original event is not modified.
func (c *Config) FilterEvent(e *cfn.Event) *cfn.Event {
	filtered := e.Clone()
	c.filterProperties(e.ResourceType, filtered.ResourceProperties)
	c.filterProperties(e.ResourceType, filtered.OldResourceProperties)
	if c.redactURL {
		filtered.ResponseURL = ""
	}
	return filtered
}

func (c *Config) filterProperties(resourceType string, properties map[string]interface{}) {
	for name := range properties {
		if !c.Visible(resourceType, name) {
			properties[name] = Placeholder
		}
	}
}
