package wordsource

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gioleppe/Word-Quizzle/internal/domain/word"
	"github.com/gioleppe/Word-Quizzle/internal/wqerrors"
)

// cacheTTL bounds how long a fetched translation set is trusted before a
// fresh oracle lookup is required.
const cacheTTL = 24 * time.Hour

// oracleResponse mirrors the translation oracle's JSON reply for a single
// source word.
type oracleResponse struct {
	Word         string   `json:"word"`
	Translations []string `json:"translations"`
}

// RemoteSource draws source words from a fixed candidate list and asks an
// HTTP translation oracle for each one's accepted translations, caching
// the result in Redis the way the teacher's RedisSessionStorage
// (internal/repository/session.go) caches session lookups.
type RemoteSource struct {
	httpClient *http.Client
	redis      *redis.Client
	log        *zap.SugaredLogger
	oracleURL  string
	candidates []string
	rng        *rand.Rand
}

// NewRemoteSource builds a RemoteSource. candidates is the pool of source
// words eligible for selection; oracleURL is the base URL of the
// translation oracle, queried as "<oracleURL>?word=<text>&from=it&to=en".
func NewRemoteSource(oracleURL string, candidates []string, redisClient *redis.Client, log *zap.SugaredLogger, seed int64) *RemoteSource {
	return &RemoteSource{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		redis:      redisClient,
		log:        log,
		oracleURL:  oracleURL,
		candidates: candidates,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (s *RemoteSource) Words(ctx context.Context, n int) ([]word.Word, error) {
	if n > len(s.candidates) {
		return nil, fmt.Errorf("%w: requested %d words, only %d candidates configured", wqerrors.ErrWordSourceFail, n, len(s.candidates))
	}

	picked := make(map[int]struct{}, n)
	out := make([]word.Word, 0, n)
	for len(out) < n {
		i := s.rng.Intn(len(s.candidates))
		if _, used := picked[i]; used {
			continue
		}
		picked[i] = struct{}{}

		text := s.candidates[i]
		translations, err := s.translationsFor(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: translate %q: %v", wqerrors.ErrWordSourceFail, text, err)
		}
		out = append(out, word.New(text, translations))
	}
	return out, nil
}

func (s *RemoteSource) translationsFor(ctx context.Context, text string) ([]string, error) {
	cacheKey := "wordquizzle:translation:" + text

	cached, err := s.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var translations []string
		if jsonErr := json.Unmarshal([]byte(cached), &translations); jsonErr == nil {
			return translations, nil
		}
	} else if err != redis.Nil {
		s.log.Warnw("word cache read failed, falling through to oracle", "word", text, "error", err)
	}

	translations, err := s.fetchFromOracle(ctx, text)
	if err != nil {
		return nil, err
	}

	if encoded, jsonErr := json.Marshal(translations); jsonErr == nil {
		if setErr := s.redis.Set(ctx, cacheKey, encoded, cacheTTL).Err(); setErr != nil {
			s.log.Warnw("word cache write failed", "word", text, "error", setErr)
		}
	}
	return translations, nil
}

func (s *RemoteSource) fetchFromOracle(ctx context.Context, text string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.oracleURL, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = "word=" + strings.ReplaceAll(text, " ", "%20") + "&from=it&to=en"

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var decoded oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode oracle response: %w", err)
	}
	if len(decoded.Translations) == 0 {
		return nil, fmt.Errorf("oracle returned no translations for %q", text)
	}
	return decoded.Translations, nil
}
