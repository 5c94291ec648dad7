// Package feedback implements the few-shot example retrieval external
// collaborator (SPEC_FULL.md §4.I): FetchSimilar queries the FEEDBACK
// collection through the StoreClient's vector search and caches the
// resulting example set in Redis, grounded on the teacher's
// internal/skills.RedisSkillsCache (a Redis-backed cache keyed by a
// composite of caller-supplied identifiers, guarding a remote lookup that
// repeats across a session).
package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elysia-go/elysiatree/internal/config"
	"github.com/elysia-go/elysiatree/internal/store"
)

// FeedbackCollection is the fixed collection name FetchSimilar queries,
// matching spec.md's "the FEEDBACK collection" wording.
const FeedbackCollection = "FEEDBACK"

// Example is one past (prompt, module, decision) triple surfaced to the
// decision chain as a few-shot hint.
type Example struct {
	UUID       string         `json:"uuid"`
	ModuleName string         `json:"moduleName"`
	Inputs     map[string]any `json:"inputs"`
	Output     map[string]any `json:"output"`
}

// Store is the FetchSimilar façade: a StoreClient connection plus an
// optional Redis cache in front of it.
type Store struct {
	ClientManager *store.ClientManager
	Redis         redis.UniversalClient
	TTL           time.Duration
}

// New builds a Store. A zero-value cfg.Addr leaves Redis unset, so
// FetchSimilar always queries the backing store directly — the cache is
// strictly an optimisation, never a dependency.
func New(cfg config.RedisConfig, clientMgr *store.ClientManager) (*Store, error) {
	s := &Store{ClientManager: clientMgr, TTL: cfg.TTL}
	if s.TTL <= 0 {
		s.TTL = config.DefaultFeedbackCacheTTL
	}
	if cfg.Addr == "" {
		return s, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("feedback: redis ping: %w", err)
	}
	s.Redis = client
	return s, nil
}

func cacheKey(prompt, moduleName string, n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", prompt, moduleName, n)))
	return "feedback:" + hex.EncodeToString(sum[:])
}

// FetchSimilar returns up to n Examples whose embedding (queryVector, the
// caller's already-embedded prompt) is nearest to past decisions recorded
// for moduleName. Results are cached under a hash of (prompt, moduleName,
// n) for TTL.
func (s *Store) FetchSimilar(ctx context.Context, queryVector []float32, prompt, moduleName string, n int) ([]Example, error) {
	key := cacheKey(prompt, moduleName, n)

	if s.Redis != nil {
		if cached, err := s.Redis.Get(ctx, key).Result(); err == nil {
			var examples []Example
			if jsonErr := json.Unmarshal([]byte(cached), &examples); jsonErr == nil {
				return examples, nil
			}
		} else if err != redis.Nil {
			return nil, fmt.Errorf("feedback: redis get: %w", err)
		}
	}

	if s.ClientManager == nil {
		return nil, fmt.Errorf("feedback: no client manager configured")
	}
	lease, err := s.ClientManager.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedback: connect: %w", err)
	}
	defer lease.Close()

	hits, err := lease.Client.Vector.SimilaritySearch(ctx, queryVector, n, map[string]string{"module": moduleName})
	if err != nil {
		return nil, fmt.Errorf("feedback: similarity search: %w", err)
	}

	examples := make([]Example, 0, len(hits))
	for _, h := range hits {
		examples = append(examples, Example{
			UUID:       h.ID,
			ModuleName: moduleName,
			Inputs:     map[string]any{"metadata": h.Metadata},
		})
	}

	if s.Redis != nil {
		if data, err := json.Marshal(examples); err == nil {
			_ = s.Redis.Set(ctx, key, data, s.TTL).Err()
		}
	}
	return examples, nil
}
