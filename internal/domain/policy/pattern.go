package policy

import "strings"

// MatchPattern implements the gateway's small pattern language (spec.md §3,
// §9 "deliberately small — must not extend it"):
//
//   - "*"  matches any run of characters not containing '/'
//   - "**" matches any characters, including '/'
//   - every other character is literal
//   - patterns anchor the full string
//
// This is deliberately not filepath.Match or a regexp: filepath.Match's "*"
// also excludes '/' but has no "**" escape hatch, and its metacharacter set
// (character classes, "?") is richer than the spec allows, so a hand-written
// matcher is the only way to keep the language exactly as small as spec.md
// requires while still supporting "**".
func MatchPattern(name, pattern string) bool {
	if pattern == "*" {
		// spec.md §3: "A bare * matches every tool" — this is a documented
		// exception to "*"'s usual not-crossing-separator rule everywhere
		// else in the pattern.
		return true
	}
	return matchFrom(name, pattern)
}

func matchFrom(name, pattern string) bool {
	for len(pattern) > 0 {
		switch {
		case strings.HasPrefix(pattern, "**"):
			rest := pattern[2:]
			if rest == "" {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchFrom(name[i:], rest) {
					return true
				}
			}
			return false
		case pattern[0] == '*':
			rest := pattern[1:]
			// "*" may consume any run not containing '/'.
			for i := 0; i <= len(name); i++ {
				if strings.ContainsRune(name[:i], '/') {
					break
				}
				if matchFrom(name[i:], rest) {
					return true
				}
			}
			return false
		default:
			if len(name) == 0 || name[0] != pattern[0] {
				return false
			}
			name = name[1:]
			pattern = pattern[1:]
		}
	}
	return len(name) == 0
}
