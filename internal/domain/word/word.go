// Package word defines the challenge words served by a WordSource.
package word

import "strings"

// Word is a single source word together with the set of translations that
// count as correct. Membership is checked case-insensitively.
type Word struct {
	Text         string
	Translations map[string]struct{}
}

// New builds a Word from a source term and its list of accepted
// translations.
func New(text string, translations []string) Word {
	set := make(map[string]struct{}, len(translations))
	for _, t := range translations {
		set[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return Word{Text: text, Translations: set}
}

// Accepts reports whether answer is an accepted translation of the word.
func (w Word) Accepts(answer string) bool {
	_, ok := w.Translations[strings.ToLower(strings.TrimSpace(answer))]
	return ok
}
