package anonymize

import "testing"

func TestApply_BidirectionalRoundTrip(t *testing.T) {
	rules := []ReplacementRule{{Fake: "John Doe", Real: "Jane Real", Bidirectional: true, CaseSensitive: true}}

	in := Mapping(MapEntry{Key: "name", Value: String("John Doe")})
	real := Apply(in, rules, Inbound)

	got, ok := real.Get("name")
	if !ok || got.Str != "Jane Real" {
		t.Fatalf("inbound rewrite: got %+v", got)
	}

	// Simulate the backend echoing the real value back.
	back := Apply(real, rules, Outbound)
	got, ok = back.Get("name")
	if !ok || got.Str != "John Doe" {
		t.Fatalf("outbound rewrite: got %+v", got)
	}
}

func TestApply_OneWayRedaction(t *testing.T) {
	rules := []ReplacementRule{{Fake: "FAKE_KEY", Real: "sk_secret", Bidirectional: false, ResponseReplacement: "***", CaseSensitive: true}}

	real := Apply(String("FAKE_KEY"), rules, Inbound)
	if real.Str != "sk_secret" {
		t.Fatalf("inbound: got %q", real.Str)
	}

	out := Apply(String("sk_secret"), rules, Outbound)
	if out.Str != "***" {
		t.Fatalf("outbound: got %q, real substring must never leak", out.Str)
	}
}

func TestApply_OneWayDefaultRedaction(t *testing.T) {
	rules := []ReplacementRule{{Fake: "F", Real: "R", CaseSensitive: true}}
	out := Apply(String("value is R here"), rules, Outbound)
	if out.Str != "value is ***REDACTED*** here" {
		t.Fatalf("got %q", out.Str)
	}
}

func TestApply_CaseInsensitive(t *testing.T) {
	rules := []ReplacementRule{{Fake: "token", Real: "SECRET", CaseSensitive: false, Bidirectional: true}}
	in := Apply(String("Token TOKEN token"), rules, Inbound)
	if in.Str != "SECRET SECRET SECRET" {
		t.Fatalf("got %q", in.Str)
	}
}

func TestApply_KeysAndValuesBothRewritten(t *testing.T) {
	rules := []ReplacementRule{{Fake: "secret_key", Real: "sk_real", Bidirectional: true, CaseSensitive: true}}
	in := Mapping(MapEntry{Key: "secret_key", Value: String("secret_key")})
	out := Apply(in, rules, Inbound)
	if out.Mapping[0].Key != "sk_real" || out.Mapping[0].Value.Str != "sk_real" {
		t.Fatalf("expected both key and value rewritten, got %+v", out.Mapping[0])
	}
}

func TestApply_ArraysElementwise(t *testing.T) {
	rules := []ReplacementRule{{Fake: "a", Real: "b", CaseSensitive: true, Bidirectional: true}}
	in := Array(String("a"), Number(1), Bool(true), String("a-suffix"))
	out := Apply(in, rules, Inbound)
	if out.Array[0].Str != "b" || out.Array[3].Str != "b-suffix" {
		t.Fatalf("got %+v", out.Array)
	}
	if out.Array[1].Number != 1 || out.Array[2].Bool != true {
		t.Fatalf("non-string scalars must pass through unchanged: %+v", out.Array)
	}
}

func TestApply_SequentialComposition(t *testing.T) {
	// Rule 2's output must see rule 1's rewrite (spec.md §4.5: rules compose).
	rules := []ReplacementRule{
		{Fake: "a", Real: "b", CaseSensitive: true, Bidirectional: true},
		{Fake: "b", Real: "c", CaseSensitive: true, Bidirectional: true},
	}
	out := Apply(String("a"), rules, Inbound)
	if out.Str != "c" {
		t.Fatalf("expected composed rewrite a->b->c, got %q", out.Str)
	}
}

func TestApply_EmptyFakeIsNoOp(t *testing.T) {
	rules := []ReplacementRule{{Fake: "", Real: "x"}}
	out := Apply(String("unchanged"), rules, Inbound)
	if out.Str != "unchanged" {
		t.Fatalf("got %q", out.Str)
	}
}
