package wordsource

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gioleppe/Word-Quizzle/internal/domain/word"
	"github.com/gioleppe/Word-Quizzle/internal/wqerrors"
)

// builtinDictionary is a small fixed Italian-to-English word list, the Go
// analogue of the original's ItalianDictionary.txt, sized for local
// development and tests rather than production traffic.
var builtinDictionary = map[string][]string{
	"casa":     {"house", "home"},
	"cane":     {"dog"},
	"gatto":    {"cat"},
	"albero":   {"tree"},
	"sole":     {"sun"},
	"luna":     {"moon"},
	"acqua":    {"water"},
	"fuoco":    {"fire"},
	"libro":    {"book"},
	"strada":   {"road", "street"},
	"finestra": {"window"},
	"porta":    {"door"},
	"tavolo":   {"table"},
	"sedia":    {"chair"},
	"montagna": {"mountain"},
	"fiume":    {"river"},
	"mare":     {"sea"},
	"cielo":    {"sky"},
	"stella":   {"star"},
	"fiore":    {"flower"},
}

// LocalSource serves words from an in-process dictionary, with no network
// dependency. It is the default backend for tests and local development.
type LocalSource struct {
	words []string
	rng   *rand.Rand
}

// NewLocalSource builds a LocalSource over the built-in dictionary.
func NewLocalSource(seed int64) *LocalSource {
	words := make([]string, 0, len(builtinDictionary))
	for w := range builtinDictionary {
		words = append(words, w)
	}
	return &LocalSource{words: words, rng: rand.New(rand.NewSource(seed))}
}

// Words returns n distinct entries from the built-in dictionary in random
// order, matching the original's "pick N distinct lines" selection
// discipline.
func (s *LocalSource) Words(ctx context.Context, n int) ([]word.Word, error) {
	if n > len(s.words) {
		return nil, fmt.Errorf("%w: requested %d words, dictionary has %d", wqerrors.ErrWordSourceFail, n, len(s.words))
	}

	picked := make(map[int]struct{}, n)
	out := make([]word.Word, 0, n)
	for len(out) < n {
		i := s.rng.Intn(len(s.words))
		if _, used := picked[i]; used {
			continue
		}
		picked[i] = struct{}{}
		text := s.words[i]
		out = append(out, word.New(text, builtinDictionary[text]))
	}
	return out, nil
}
