package resolver

import (
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/tenant"
)

// Normalize lower-cases s, trims it and collapses inner whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Similarity scores how much of pattern is covered by body. Both are split
// on whitespace, tokens of two runes or fewer are dropped, and the score is
// |body ∩ pattern| / |pattern|. A pattern without usable tokens scores 0.
func Similarity(body, pattern string) float64 {
	want := tokenSet(pattern)
	if len(want) == 0 {
		return 0
	}
	have := tokenSet(body)
	hit := 0
	for tok := range want {
		if _, ok := have[tok]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		if utf8.RuneCountInString(tok) <= 2 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// containsPhrase reports whether phrase occurs in s on word boundaries, so
// "paquete de 10" does not match inside "paquete de 100".
func containsPhrase(s, phrase string) bool {
	if phrase == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(s[i:], phrase)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(phrase)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		i = start + 1
		if i >= len(s) {
			return false
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p = Normalize(p); p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// matchPackage finds the package a normalized body selects. Keys are tried
// longest first so "100" wins over "10".
func matchPackage(body string, packages map[string]domain.Package) (string, bool) {
	keys := make([]string, 0, len(packages))
	for k := range packages {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})

	for _, key := range keys {
		k := Normalize(key)
		if k == "" {
			continue
		}
		if body == k {
			return key, true
		}
		for _, phrase := range packagePhrases(k) {
			if containsPhrase(body, phrase) {
				return key, true
			}
		}
	}
	return "", false
}

func packagePhrases(key string) []string {
	return []string{
		"paquete de " + key,
		"package of " + key,
		key + " soles",
		"s/" + key,
		"s/ " + key,
	}
}

// matchModule returns the index of the first module the body selects, or -1.
func matchModule(body string, cfg *domain.BusinessConfig) int {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = tenant.DefaultSimilarityThreshold
	}
	for i, m := range cfg.Modules {
		for _, kw := range m.Keywords {
			kw = Normalize(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(body, kw) {
				return i
			}
			if cfg.SimilarityMatching && Similarity(body, kw) >= threshold {
				return i
			}
		}
	}
	return -1
}

// render substitutes the amount and credits placeholders, including the
// legacy Spanish names.
func render(tmpl, amount string, credits int) string {
	c := strconv.Itoa(credits)
	return strings.NewReplacer(
		"{{amount}}", amount,
		"{{monto}}", amount,
		"{{credits}}", c,
		"{{creditos}}", c,
	).Replace(tmpl)
}
