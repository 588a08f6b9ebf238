package anonymize

import "strings"

// Direction selects which way a set of rules is applied.
type Direction int

const (
	Inbound  Direction = iota // fake -> real, before dispatch
	Outbound                  // real -> fake (or redaction), on the reply
)

// Apply rewrites every string leaf, and every mapping key, of v according to
// rules, applied sequentially in configuration order (spec.md §4.5: "the
// output of rule k is input to rule k+1; overlapping rules are the author's
// responsibility").
func Apply(v Value, rules []ReplacementRule, dir Direction) Value {
	for _, r := range rules {
		v = applyOne(v, r, dir)
	}
	return v
}

func applyOne(v Value, r ReplacementRule, dir Direction) Value {
	switch v.Kind {
	case KindString:
		return String(rewriteString(v.Str, r, dir))
	case KindArray:
		out := make([]Value, len(v.Array))
		for i, e := range v.Array {
			out[i] = applyOne(e, r, dir)
		}
		return Value{Kind: KindArray, Array: out}
	case KindMapping:
		out := make([]MapEntry, len(v.Mapping))
		for i, e := range v.Mapping {
			out[i] = MapEntry{
				Key:   rewriteString(e.Key, r, dir),
				Value: applyOne(e.Value, r, dir),
			}
		}
		return Value{Kind: KindMapping, Mapping: out}
	default:
		return v
	}
}

func rewriteString(s string, r ReplacementRule, dir Direction) string {
	if r.Fake == "" {
		// Invariant: fake is never empty (spec.md §3). Guard defensively so a
		// misconfigured rule can never turn into an unbounded rewrite.
		return s
	}
	if dir == Inbound {
		return replaceLiteral(s, r.Fake, r.Real, r.CaseSensitive)
	}
	if r.Bidirectional {
		return replaceLiteral(s, r.Real, r.Fake, r.CaseSensitive)
	}
	return replaceLiteral(s, r.Real, r.responseReplacement(), r.CaseSensitive)
}

// replaceLiteral replaces every occurrence of needle in s with replacement.
// When caseSensitive is false, all case-variants of needle are matched but
// the literal replacement text is always emitted verbatim (spec.md §4.5).
func replaceLiteral(s, needle, replacement string, caseSensitive bool) string {
	if needle == "" {
		return s
	}
	if caseSensitive {
		return strings.ReplaceAll(s, needle, replacement)
	}

	var b strings.Builder
	lowerS := strings.ToLower(s)
	lowerNeedle := strings.ToLower(needle)
	i := 0
	for {
		idx := strings.Index(lowerS[i:], lowerNeedle)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		b.WriteString(replacement)
		i += idx + len(needle)
	}
	return b.String()
}
