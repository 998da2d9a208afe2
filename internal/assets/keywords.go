package assets

import (
	_ "embed"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// KeywordMap maps a business-type word to Poly Haven search terms.
type KeywordMap map[string][]string

// DefaultKeywords returns the built-in keyword map.
func DefaultKeywords() KeywordMap {
	km, err := ParseKeywords(defaultKeywordsYAML)
	if err != nil {
		panic("assets: embedded keywords.yaml: " + err.Error())
	}
	return km
}

// ParseKeywords decodes a YAML mapping of key -> list of terms. Keys are
// lowercased; empty terms are dropped.
func ParseKeywords(data []byte) (KeywordMap, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "assets: parse keyword map")
	}
	km := make(KeywordMap, len(raw))
	for k, terms := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		for _, t := range terms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				km[key] = append(km[key], t)
			}
		}
	}
	return km, nil
}

// LoadKeywords returns the built-in map with entries from the YAML file at
// path layered on top. An empty path yields the built-in map.
func LoadKeywords(path string) (KeywordMap, error) {
	km := DefaultKeywords()
	if path == "" {
		return km, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "assets: read keyword map %s", path)
	}
	extra, err := ParseKeywords(data)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		km[k] = v
	}
	return km, nil
}

// Expand turns a research keyword like "coffee_cup" into the ordered list of
// terms to try: the keyword itself, the terms mapped to the whole phrase,
// then the terms mapped to each word.
func (km KeywordMap) Expand(keyword string) []string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil
	}
	terms := []string{keyword}
	add := func(mapped []string) {
		for _, m := range mapped {
			if !slices.Contains(terms, m) {
				terms = append(terms, m)
			}
		}
	}

	normalized := strings.ToLower(strings.ReplaceAll(keyword, "_", " "))
	words := strings.Fields(normalized)
	add(km[strings.Join(words, "_")])
	for _, w := range words {
		add(km[w])
	}
	return terms
}
