// Package wordsource produces the challenge word batches consumed by a
// duel. LocalSource serves a built-in dictionary, grounded on the
// original's ItalianDictionary.txt + mymemory lookup (WQWords.java);
// RemoteSource fetches translations from an HTTP oracle and caches each
// word's translation set in Redis, the way the teacher's session repository
// caches session state.
package wordsource

import (
	"context"

	"github.com/gioleppe/Word-Quizzle/internal/domain/word"
)

// Source produces a batch of exactly n distinct challenge words.
type Source interface {
	Words(ctx context.Context, n int) ([]word.Word, error)
}
