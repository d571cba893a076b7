// Package tokens caches OAuth bearer tokens per credentialed source.
// Concurrent refreshes for the same source coalesce onto one exchange.
package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thetangstr/findmycar/internal/sources"
)

// SafetyMargin is how much remaining lifetime a cached token must have to be
// handed out without a refresh.
const SafetyMargin = 60 * time.Second

// Token is a bearer credential with its expiry.
type Token struct {
	Bearer    string
	ExpiresAt time.Time
}

// ExchangeFunc performs the upstream credential exchange for one source.
type ExchangeFunc func(ctx context.Context) (Token, error)

// Store is the process-wide token cache.
type Store struct {
	mu        sync.RWMutex
	exchanges map[string]ExchangeFunc
	cached    map[string]Token
	sf        singleflight.Group
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		exchanges: make(map[string]ExchangeFunc),
		cached:    make(map[string]Token),
		now:       time.Now,
	}
}

// Register installs the exchange function for a source.
func (s *Store) Register(source string, fn ExchangeFunc) {
	s.mu.Lock()
	s.exchanges[source] = fn
	s.mu.Unlock()
}

// Get returns a token whose expiry lies at least SafetyMargin in the future,
// refreshing under a per-source single-flight lock when needed. force skips
// the cache; callers use it at most once after an unauthorized response.
func (s *Store) Get(ctx context.Context, source string, force bool) (Token, error) {
	if !force {
		s.mu.RLock()
		tok, ok := s.cached[source]
		s.mu.RUnlock()
		if ok && tok.ExpiresAt.After(s.now().Add(SafetyMargin)) {
			return tok, nil
		}
	}

	v, err, shared := s.sf.Do(source, func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		if !force {
			s.mu.RLock()
			tok, ok := s.cached[source]
			s.mu.RUnlock()
			if ok && tok.ExpiresAt.After(s.now().Add(SafetyMargin)) {
				return tok, nil
			}
		}
		return s.refresh(ctx, source)
	})
	if err != nil {
		return Token{}, err
	}
	if shared {
		log.Debug().Str("source", source).Msg("token refresh coalesced")
	}
	return v.(Token), nil
}

func (s *Store) refresh(ctx context.Context, source string) (Token, error) {
	s.mu.RLock()
	fn, ok := s.exchanges[source]
	s.mu.RUnlock()
	if !ok {
		return Token{}, sources.NewError(source, "token", sources.KindUnauthorized,
			fmt.Errorf("no credential exchange registered"))
	}

	tok, err := fn(ctx)
	if err != nil {
		return Token{}, sources.NewError(source, "token", sources.KindUnauthorized,
			fmt.Errorf("token exchange failed: %w", err))
	}
	if tok.Bearer == "" {
		return Token{}, sources.NewError(source, "token", sources.KindUnauthorized,
			fmt.Errorf("token exchange returned empty bearer"))
	}

	s.mu.Lock()
	s.cached[source] = tok
	s.mu.Unlock()
	log.Info().Str("source", source).Time("expires_at", tok.ExpiresAt).Msg("token refreshed")
	return tok, nil
}

// Invalidate drops the cached token for a source.
func (s *Store) Invalidate(source string) {
	s.mu.Lock()
	delete(s.cached, source)
	s.mu.Unlock()
}
