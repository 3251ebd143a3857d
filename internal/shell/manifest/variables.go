package manifest

import "regexp"

// placeholder matches ${VAR} and ${VAR:-default}.
//   - Group 1: variable name
//   - Group 2: ":-default", present only when a default is given
//   - Group 3: the default value
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Expand replaces ${VAR} and ${VAR:-default} placeholders in value.
//
//	Expand("${BUILD:-build/release}/lock", nil)                    // "build/release/lock"
//	Expand("${BUILD}/lock", map[string]string{"BUILD": "out"})     // "out/lock"
//	Expand("${MISSING}", nil)                                      // "${MISSING}"
//
// A variable without value or default is left as written so the resulting
// error names it.
func Expand(value string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(value, func(match string) string {
		m := placeholder.FindStringSubmatch(match)
		if v, ok := vars[m[1]]; ok {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		return match
	})
}
