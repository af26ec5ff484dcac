package consent

import (
	"reflect"
	"testing"

	logx "hotlabel/pkg/logx"
)

func logxNop() logx.Logger { return logx.Nop() }

func TestHashStringGolden(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                 "0",
		"abc":              "17862",
		"Mozilla/5.0":      "77392f8",
		"test@example.com": "53cbf7b1",
		"é😀":               "1e780c",
	}
	for in, want := range tests {
		if got := HashString(in); got != want {
			t.Fatalf("HashString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnonymize(t *testing.T) {
	t.Parallel()
	g := NewGate(nil, nil, logxNop())
	in := map[string]any{
		"userAgent":     "Mozilla/5.0",
		"email":         "test@example.com",
		"exactLocation": "40.7128° N, 74.0060° W",
		"language":      "en-US",
	}
	out := g.Anonymize(in)

	if out["userAgent"] == "Mozilla/5.0" || out["userAgent"] != HashString("Mozilla/5.0") {
		t.Fatalf("userAgent = %v", out["userAgent"])
	}
	if out["email"] == "test@example.com" || out["email"] != HashString("test@example.com") {
		t.Fatalf("email = %v", out["email"])
	}
	if _, ok := out["exactLocation"]; ok {
		t.Fatal("exactLocation still present")
	}
	if out["language"] != "en-US" {
		t.Fatalf("language = %v", out["language"])
	}
	if in["userAgent"] != "Mozilla/5.0" || in["exactLocation"] == nil {
		t.Fatal("input record was modified")
	}

	if again := g.Anonymize(in); !reflect.DeepEqual(again, out) {
		t.Fatalf("anonymization not deterministic: %v vs %v", again, out)
	}
}

func TestAnonymizeDropsUnhashableAndRecurses(t *testing.T) {
	t.Parallel()
	g := NewGate(nil, nil, logxNop())
	out := g.Anonymize(map[string]any{
		"email": 42,
		"browserInfo": map[string]any{
			"userAgent": "Mozilla/5.0",
			"platform":  "Linux",
		},
	})
	if _, ok := out["email"]; ok {
		t.Fatal("non-string email was kept")
	}
	bi := out["browserInfo"].(map[string]any)
	if bi["userAgent"] != HashString("Mozilla/5.0") || bi["platform"] != "Linux" {
		t.Fatalf("nested record = %v", bi)
	}
}

func TestAnonymizeDisabledReturnsCopy(t *testing.T) {
	t.Parallel()
	g := NewGate(nil, nil, logxNop())
	off := false
	g.Configure(Options{Anonymize: &off})
	in := map[string]any{"email": "a@b.c", "exactLocation": "here"}
	out := g.Anonymize(in)
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("Anonymize() with anonymize=false = %v, want %v", out, in)
	}
	if g.Anonymize(nil) != nil {
		t.Fatal("Anonymize(nil) != nil")
	}
}
