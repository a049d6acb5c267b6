package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVariables_UniqueOrdered(t *testing.T) {
	vars := ParseVariables("Hi {{firstName}}, {{firstName}} meet {{username}} and {{a|b}}")
	assert.Equal(t, []string{"firstName", "username", "a|b"}, vars)
}

func TestApply_AllVariablesSupplied(t *testing.T) {
	tmpl := "Hi {{firstName}}, your handle is {{username}}"
	out := Apply(tmpl, map[string]string{"firstName": "Sam", "username": "sam_01"}, "")

	assert.Equal(t, "Hi Sam, your handle is sam_01", out)
	// Round-trip property: nothing left to substitute.
	if strings.Contains(out, "{{") {
		t.Fatalf("expected no remaining placeholders, got %q", out)
	}
}

func TestApply_FallbackChain(t *testing.T) {
	tmpl := "Hi {{a|b}}"

	// First candidate absent, second resolves.
	assert.Equal(t, "Hi X", Apply(tmpl, map[string]string{"b": "X"}, ""))

	// Nothing resolves: the fallback parameter wins.
	assert.Equal(t, "Hi there", Apply(tmpl, map[string]string{}, "there"))
	assert.Equal(t, "Hi ", Apply(tmpl, map[string]string{}, ""))
}

func TestApply_EmptyValueFallsThroughChain(t *testing.T) {
	out := Apply("Hi {{firstName|username}}", map[string]string{"firstName": "", "username": "sam_01"}, "")
	assert.Equal(t, "Hi sam_01", out)
}

// Quoted segments are looked up as variable names, not treated as string
// constants.
func TestApply_QuotedSegmentIsALookup(t *testing.T) {
	tmpl := `Hi {{firstName|"friend"}}`

	assert.Equal(t, "Hi fallback", Apply(tmpl, map[string]string{}, "fallback"))
	assert.Equal(t, "Hi pal", Apply(tmpl, map[string]string{`"friend"`: "pal"}, ""))
}

func TestFindMissing(t *testing.T) {
	tmpl := "Hi {{firstName}}, from {{city|location}} - {{promo}}"
	missing := FindMissing(tmpl, map[string]string{
		"firstName": "Sam",
		"location":  "Berlin", // covers the chain
	})
	assert.Equal(t, []string{"promo"}, missing)

	// A chain counts as missing only when no candidate resolves, and is
	// reported by its first candidate.
	missing = FindMissing(tmpl, map[string]string{"firstName": "Sam", "promo": "10%"})
	assert.Equal(t, []string{"city"}, missing)

	// Present but empty counts as missing.
	missing = FindMissing("{{promo}}", map[string]string{"promo": ""})
	assert.Equal(t, []string{"promo"}, missing)
}

func TestSamplePreview(t *testing.T) {
	out := SamplePreview("Hi {{firstName}}, check {{link}}", map[string]string{"firstName": "Sam"})
	assert.Equal(t, "Hi Sam, check [link]", out)

	// Unresolved chains are previewed by their first candidate.
	out = SamplePreview("Hi {{firstName|username}}", nil)
	assert.Equal(t, "Hi [firstName]", out)
}
