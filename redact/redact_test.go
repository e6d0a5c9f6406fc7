package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a69/cfn.go/cfn"
)

// twoRuleSetConfig builds the reference configuration: one rule set for
// every resource type selecting Test and Example, plus one for
// Custom::Test selecting Custom and DeleteMe*.
func twoRuleSetConfig(t *testing.T, mode Mode) *Config {
	t.Helper()

	global, err := NewRuleSet("")
	require.NoError(t, err)
	global.AddProperty("Test")
	global.AddProperty("Example")

	scoped, err := NewRuleSet("^Custom::Test$")
	require.NoError(t, err)
	scoped.AddProperty("Custom")
	require.NoError(t, scoped.AddPattern("^DeleteMe.*$"))

	c := NewConfig(WithMode(mode))
	require.NoError(t, c.AddRuleSet(global))
	require.NoError(t, c.AddRuleSet(scoped))
	return c
}

func TestVisibleBlocklist(t *testing.T) {
	c := twoRuleSetConfig(t, Blocklist)

	for _, p := range []string{"Test", "Example", "Custom", "DeleteMeExtended"} {
		assert.False(t, c.Visible("Custom::Test", p), "property %s should be redacted for Custom::Test", p)
	}
	assert.True(t, c.Visible("Custom::Test", "Unredacted"))

	for _, p := range []string{"Test", "Example"} {
		assert.False(t, c.Visible("Custom::Other", p), "property %s should be redacted for Custom::Other", p)
	}
	for _, p := range []string{"Custom", "DeleteMeExtended", "Unredacted"} {
		assert.True(t, c.Visible("Custom::Other", p), "property %s should be visible for Custom::Other", p)
	}
}

func TestVisibleAllowlistInvertsSelection(t *testing.T) {
	c := twoRuleSetConfig(t, Allowlist)

	for _, p := range []string{"Test", "Example", "Custom", "DeleteMeExtended"} {
		assert.True(t, c.Visible("Custom::Test", p), "property %s should be visible for Custom::Test", p)
	}
	assert.False(t, c.Visible("Custom::Test", "Unredacted"))

	// Only the global rule set applies to other resource types.
	assert.True(t, c.Visible("Custom::Other", "Test"))
	assert.False(t, c.Visible("Custom::Other", "Custom"))
	assert.False(t, c.Visible("Custom::Other", "Unredacted"))
}

func TestVisibleWithoutRuleSets(t *testing.T) {
	assert.True(t, NewConfig().Visible("Custom::Test", "Anything"))
	assert.False(t, NewConfig(WithMode(Allowlist)).Visible("Custom::Test", "Anything"))
}

func TestExactPropertyNamesAreNotPatterns(t *testing.T) {
	rs, err := NewRuleSet("")
	require.NoError(t, err)
	rs.AddProperty("Sec.et")

	c, err := NewStandaloneConfig(rs)
	require.NoError(t, err)
	assert.False(t, c.Visible("Custom::Test", "Sec.et"))
	assert.True(t, c.Visible("Custom::Test", "Secret"), "dot must match literally, not as a wildcard")
}

func TestStandaloneConfigSingleRuleSet(t *testing.T) {
	rs, err := NewRuleSet("")
	require.NoError(t, err)
	rs.AddProperty("Password")

	c, err := NewStandaloneConfig(rs, WithRedactResponseURL())
	require.NoError(t, err)
	assert.False(t, c.Visible("Custom::Anything", "Password"))
	assert.True(t, c.RedactResponseURL())
}

func TestConflictingRuleSets(t *testing.T) {
	a, err := NewRuleSet("^Custom::Test$")
	require.NoError(t, err)
	b, err := NewRuleSet("^Custom::Test$")
	require.NoError(t, err)

	c := NewConfig()
	require.NoError(t, c.AddRuleSet(a))
	err = c.AddRuleSet(b)
	assert.ErrorIs(t, err, ErrConflictingRuleSet)
}

func TestInvalidPatterns(t *testing.T) {
	_, err := NewRuleSet("[")
	assert.Error(t, err)

	rs, err := NewRuleSet("")
	require.NoError(t, err)
	assert.Error(t, rs.AddPattern("["))
}

func TestFilterEvent(t *testing.T) {
	c := twoRuleSetConfig(t, Blocklist)

	e := &cfn.Event{
		RequestType:  cfn.RequestUpdate,
		ResponseURL:  "https://example.com/cb",
		ResourceType: "Custom::Test",
		ResourceProperties: map[string]interface{}{
			"Test":       "secret",
			"Unredacted": "plain",
		},
		OldResourceProperties: map[string]interface{}{
			"DeleteMeExtended": "secret",
		},
	}
	filtered := c.FilterEvent(e)

	assert.Equal(t, Placeholder, filtered.ResourceProperties["Test"])
	assert.Equal(t, "plain", filtered.ResourceProperties["Unredacted"])
	assert.Equal(t, Placeholder, filtered.OldResourceProperties["DeleteMeExtended"])
	assert.Equal(t, "https://example.com/cb", filtered.ResponseURL)

	// The original event is untouched.
	assert.Equal(t, "secret", e.ResourceProperties["Test"])
}

func TestFilterEventScrubsResponseURL(t *testing.T) {
	rs, err := NewRuleSet("")
	require.NoError(t, err)
	c, err := NewStandaloneConfig(rs, WithRedactResponseURL())
	require.NoError(t, err)

	e := &cfn.Event{ResponseURL: "https://example.com/cb", ResourceType: "Custom::Test"}
	assert.Empty(t, c.FilterEvent(e).ResponseURL)
	assert.Equal(t, "https://example.com/cb", e.ResponseURL)
}
