package keygen

import (
	"strings"
	"testing"

	"github.com/saiset-co/sai-translation-cache/types"
)

type manualClock struct {
	now uint64
}

func (c *manualClock) NowMS() uint64 { return c.now }

func TestGenerateDeterministic(t *testing.T) {
	gen := NewGenerator(&types.KeyConfig{NormalizeText: true}, nil)

	first, err := gen.Generate("Hello World", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	second, err := gen.Generate("Hello World", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if first != second {
		t.Fatalf("identical inputs produced different keys: %q vs %q", first, second)
	}
}

func TestGenerateKnownHash(t *testing.T) {
	gen := NewGenerator(&types.KeyConfig{NormalizeText: true}, nil)

	key, err := gen.Generate("Hello World", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	// FNV-1a of "helloworld" (normalized form).
	if key != "en:fr:3b9f5c61" {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestGenerateNormalizationInvariance(t *testing.T) {
	gen := NewGenerator(&types.KeyConfig{NormalizeText: true}, nil)

	variants := []string{
		"Hello World",
		"helloworld",
		"HELLO WORLD",
		"  hello\tworld\n",
	}

	base, err := gen.Generate(variants[0], "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, v := range variants[1:] {
		key, err := gen.Generate(v, "en", "fr")
		if err != nil {
			t.Fatalf("Generate(%q) failed: %v", v, err)
		}
		if key != base {
			t.Fatalf("normalized variants must collide: %q -> %q, want %q", v, key, base)
		}
	}
}

func TestGenerateNonASCIIBytesPreserved(t *testing.T) {
	gen := NewGenerator(&types.KeyConfig{NormalizeText: true}, nil)

	// 0xC3 0xA0 ("à") must hash as-is; only ASCII whitespace is stripped, so
	// bytes like 0xA0 inside multi-byte sequences never disappear.
	key, err := gen.Generate("voilà", "fr", "en")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if key != "fr:en:ecfcf434" {
		t.Fatalf("non-ASCII text hashed wrong: %q", key)
	}

	key, err = gen.Generate("は", "ja", "en")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if key != "ja:en:bb2be172" {
		t.Fatalf("multi-byte text hashed wrong: %q", key)
	}

	// NBSP (0xC2 0xA0) is not ASCII whitespace and must not be stripped.
	spaced, err := gen.Generate("a\u00a0b", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	plain, err := gen.Generate("ab", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if spaced == plain {
		t.Fatalf("NBSP must survive normalization, got colliding key %q", spaced)
	}
}

func TestGenerateWithoutNormalization(t *testing.T) {
	gen := NewGenerator(&types.KeyConfig{NormalizeText: false}, nil)

	upper, err := gen.Generate("Hello World", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	lower, err := gen.Generate("hello world", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if upper == lower {
		t.Fatalf("raw hashing must distinguish case: %q", upper)
	}
}

func TestGenerateLanguagePairsDiffer(t *testing.T) {
	gen := NewGenerator(&types.KeyConfig{NormalizeText: true}, nil)

	enFr, _ := gen.Generate("hello", "en", "fr")
	enDe, _ := gen.Generate("hello", "en", "de")
	if enFr == enDe {
		t.Fatalf("different target languages must not collide")
	}
	if !strings.HasPrefix(enFr, "en:fr:") || !strings.HasPrefix(enDe, "en:de:") {
		t.Fatalf("keys must carry the language pair: %q %q", enFr, enDe)
	}
}

func TestGenerateWithTimestamp(t *testing.T) {
	clock := &manualClock{now: 1234567}
	gen := NewGenerator(&types.KeyConfig{NormalizeText: true, IncludeTimestamp: true}, clock)

	key, err := gen.Generate("hello world", "en", "fr")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if key != "en:fr:3b9f5c61:1234567" {
		t.Fatalf("unexpected timestamped key %q", key)
	}
}

func TestGenerateEmptyParams(t *testing.T) {
	gen := NewGenerator(nil, nil)

	cases := [][3]string{
		{"", "en", "fr"},
		{"hello", "", "fr"},
		{"hello", "en", ""},
	}
	for _, c := range cases {
		if _, err := gen.Generate(c[0], c[1], c[2]); !types.IsError(err, types.ErrInvalidParam) {
			t.Fatalf("expected ErrInvalidParam for %v, got %v", c, err)
		}
	}
}

func TestGenerateUnimplementedMethods(t *testing.T) {
	gen := NewGenerator(nil, nil)

	for _, method := range []types.KeyMethod{types.KeyMethodMurmur3, types.KeyMethodCustom} {
		gen.SetMethod(method)
		if gen.Method() != method {
			t.Fatalf("SetMethod not applied")
		}
		if _, err := gen.Generate("hello", "en", "fr"); !types.IsError(err, types.ErrNotImplemented) {
			t.Fatalf("expected ErrNotImplemented for %s, got %v", method, err)
		}
	}

	gen.SetMethod("sha256")
	if _, err := gen.Generate("hello", "en", "fr"); !types.IsError(err, types.ErrInvalidParam) {
		t.Fatalf("expected ErrInvalidParam for unknown method, got %v", err)
	}
}
