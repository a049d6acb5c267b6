// Package template implements {{variable}} substitution for DM
// personalization, including fallback chains like {{firstName|username}}
// where the first candidate with a non-empty value wins.
package template

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ParseVariables returns the unique placeholder bodies found in template, in
// order of first appearance. Chain placeholders are returned as their raw
// body (e.g. "firstName|username").
func ParseVariables(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	seen := map[string]bool{}
	vars := []string{}
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		vars = append(vars, name)
	}
	return vars
}

// resolveChain tries each |-separated candidate as a lookup into values and
// returns the first non-empty hit. Quoted segments are looked up verbatim
// like any other name, they are not string constants.
func resolveChain(body string, values map[string]string) (string, bool) {
	for _, candidate := range strings.Split(body, "|") {
		candidate = strings.TrimSpace(candidate)
		if v, ok := values[candidate]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Apply renders template against values. Placeholders that resolve to
// nothing are replaced with fallback.
func Apply(template string, values map[string]string, fallback string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		body := strings.TrimSpace(m[2 : len(m)-2])
		if v, ok := resolveChain(body, values); ok {
			return v
		}
		return fallback
	})
}

// FindMissing returns the variables in template that values does not cover.
// A plain variable is missing when absent or empty; a chain is missing only
// when no candidate resolves, and is reported by its first candidate name.
func FindMissing(template string, values map[string]string) []string {
	missing := []string{}
	for _, body := range ParseVariables(template) {
		if _, ok := resolveChain(body, values); ok {
			continue
		}
		first := strings.TrimSpace(strings.SplitN(body, "|", 2)[0])
		missing = append(missing, first)
	}
	return missing
}

// SamplePreview renders template with samples, synthesizing a bracketed
// "[name]" stand-in for every variable samples does not resolve. Used by the
// campaign editor to show an example message before any real data exists.
func SamplePreview(template string, samples map[string]string) string {
	filled := make(map[string]string, len(samples))
	for k, v := range samples {
		filled[k] = v
	}
	for _, name := range FindMissing(template, filled) {
		filled[name] = "[" + name + "]"
	}
	return Apply(template, filled, "")
}
