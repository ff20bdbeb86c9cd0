// Package keygen derives deterministic cache keys from translation
// parameters. Keys have the form "source:target:hash" with an optional
// trailing millisecond timestamp, where hash is the 32-bit FNV-1a digest of
// the (optionally normalized) source text.
package keygen

import (
	"fmt"
	"strings"
	"sync"

	"github.com/saiset-co/sai-translation-cache/types"
)

const (
	fnvOffsetBasis uint32 = 2166136261
	fnvPrime       uint32 = 16777619
)

type Generator struct {
	clock types.Clock
	// seed feeds the seeded hash methods (murmur3/custom); fnv1a ignores it.
	seed             uint32
	normalizeText    bool
	includeTimestamp bool
	method           types.KeyMethod
	mu               sync.RWMutex
}

func NewGenerator(config *types.KeyConfig, clock types.Clock) *Generator {
	g := &Generator{
		clock:            clock,
		method:           types.KeyMethodFNV1a,
		normalizeText:    true,
		includeTimestamp: false,
	}

	if config != nil {
		if config.Method != "" {
			g.method = config.Method
		}
		g.seed = config.Seed
		g.normalizeText = config.NormalizeText
		g.includeTimestamp = config.IncludeTimestamp
	}

	if g.clock == nil {
		g.clock = types.NewSystemClock()
	}

	return g
}

// Generate composes "{sourceLang}:{targetLang}:{hash:08x}" with an optional
// ":{timestamp}" suffix. Identical inputs always yield identical keys when
// timestamps are disabled.
func (g *Generator) Generate(sourceText, sourceLang, targetLang string) (string, error) {
	if sourceText == "" || sourceLang == "" || targetLang == "" {
		return "", types.Errorf(types.ErrInvalidParam, "source text and language codes must not be empty")
	}

	g.mu.RLock()
	method := g.method
	normalize := g.normalizeText
	includeTimestamp := g.includeTimestamp
	g.mu.RUnlock()

	textToHash := sourceText
	if normalize {
		textToHash = normalizeText(sourceText)
	}

	var hash uint32
	switch method {
	case types.KeyMethodFNV1a:
		hash = fnv1aHash(textToHash)
	case types.KeyMethodMurmur3, types.KeyMethodCustom:
		return "", types.Errorf(types.ErrNotImplemented, "hash method %s", method)
	default:
		return "", types.Errorf(types.ErrInvalidParam, "unknown hash method %s", method)
	}

	if includeTimestamp {
		return fmt.Sprintf("%s:%s:%08x:%d", sourceLang, targetLang, hash, g.clock.NowMS()), nil
	}

	return fmt.Sprintf("%s:%s:%08x", sourceLang, targetLang, hash), nil
}

func (g *Generator) SetMethod(method types.KeyMethod) {
	g.mu.Lock()
	g.method = method
	g.mu.Unlock()
}

func (g *Generator) Method() types.KeyMethod {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.method
}

func fnv1aHash(text string) uint32 {
	hash := fnvOffsetBasis
	for i := 0; i < len(text); i++ {
		hash ^= uint32(text[i])
		hash *= fnvPrime
	}
	return hash
}

// normalizeText strips ASCII whitespace and lower-cases ASCII letters,
// byte-wise and locale-naive. Bytes >= 0x80 pass through untouched so UTF-8
// sequences survive intact and keys stay stable across implementations.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\v' || c == '\f' || c == '\r' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}
