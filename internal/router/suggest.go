package router

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/dghubble/trie"
)

const maxDistance = 3

// Suggest returns registered commands close to input: those it prefixes and
// those within a small edit distance. An exact match returns only itself.
func Suggest(commands []string, input string) []string {
	input = strings.ToLower(input)
	if input == "" {
		return nil
	}
	t := trie.NewRuneTrie()
	for _, c := range commands {
		t.Put(strings.ToLower(c), c)
	}
	if v := t.Get(input); v != nil {
		return []string{v.(string)}
	}
	var out []string
	_ = t.Walk(func(key string, value any) error {
		if strings.HasPrefix(key, input) || levenshtein.ComputeDistance(input, key) < maxDistance {
			out = append(out, value.(string))
		}
		return nil
	})
	sort.Strings(out)
	return out
}
