package appindex

import (
	fuzzywuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// Similarity scores two names on a 0..100 scale with fuzzywuzzy's weighted
// ratio: the plain ratio, the best aligned substring and the word-sorted
// ratio, so "chrome" still finds "google chrome". Both names are
// lowercased and stripped of punctuation first.
func Similarity(a, b string) int {
	return fuzzywuzzy.WRatio(a, b)
}
