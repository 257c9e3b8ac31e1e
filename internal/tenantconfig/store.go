// Package tenantconfig is the Tenant Config Store Adapter (spec.md §4.A):
// DID → tenant_id lookup and tenant_id → RuntimeTenantConfig loading, backed
// by the KV store and fronted by a bounded, short-TTL in-process cache. The
// cache shape (RWMutex-guarded map, deep-copy-on-read) is grounded on the
// teacher's internal/cache/agent_cache.go singleton.
package tenantconfig

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/apperr"
	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	voiceredis "github.com/ClareAI/astra-voice-receptionist/pkg/redis"
	"github.com/jinzhu/copier"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	// defaultCacheTTL bounds how long a loaded config is served from the
	// in-process cache before the next lookup re-reads the KV store
	// (spec.md §4.A "short positive TTL").
	defaultCacheTTL = 30 * time.Second
	// defaultCacheSize bounds the number of tenants held in memory at once;
	// eviction is oldest-access-first once exceeded.
	defaultCacheSize = 2048
)

// Store resolves DIDs to tenants and loads/validates/caches tenant configs.
type Store struct {
	redis       *voiceredis.RedisService
	didPrefix   string
	cfgPrefix   string
	validate    *validator.Validate
	ttl         time.Duration
	maxEntries  int

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	cfg        *domain.RuntimeTenantConfig
	loadedAt   time.Time
	lastAccess time.Time
}

// New constructs a Store against the given KV client and key prefixes
// (spec.md §6 "KV keys": `{TENANTMAP_PREFIX}:did:{E164}`, `{TENANTCFG_PREFIX}:{tenant_id}`).
func New(redisSvc *voiceredis.RedisService, didPrefix, cfgPrefix string) *Store {
	if didPrefix == "" {
		didPrefix = "tenantmap"
	}
	if cfgPrefix == "" {
		cfgPrefix = "tenantcfg"
	}
	return &Store{
		redis:      redisSvc,
		didPrefix:  didPrefix,
		cfgPrefix:  cfgPrefix,
		validate:   validator.New(),
		ttl:        defaultCacheTTL,
		maxEntries: defaultCacheSize,
		entries:    make(map[string]*cacheEntry),
	}
}

// LookupDID normalises did to E.164 and resolves it to a tenant_id. Returns
// apperr NotFound if the DID is unmapped, InvalidInput if it isn't a valid
// E.164 number.
func (s *Store) LookupDID(ctx context.Context, did string) (string, error) {
	normalised, ok := NormaliseDID(did)
	if !ok {
		return "", apperr.New(apperr.InvalidInput, "did is not a valid E.164 number")
	}

	key := fmt.Sprintf("%s:did:%s", s.didPrefix, normalised)
	tenantID, err := s.redis.GetValue(ctx, key)
	if err != nil {
		if err == voiceredis.ErrKeyNotExist {
			return "", apperr.New(apperr.NotFound, "no tenant bound to did")
		}
		return "", apperr.Wrap(apperr.Unavailable, "did lookup failed", err)
	}
	if tenantID == "" {
		return "", apperr.New(apperr.NotFound, "no tenant bound to did")
	}
	return tenantID, nil
}

// LoadConfig returns the validated RuntimeTenantConfig for tenantID, serving
// from the in-process cache when fresh and falling back to the KV store
// otherwise (spec.md §4.A).
func (s *Store) LoadConfig(ctx context.Context, tenantID string) (*domain.RuntimeTenantConfig, error) {
	if cfg, ok := s.fromCache(tenantID); ok {
		return cfg, nil
	}

	key := fmt.Sprintf("%s:%s", s.cfgPrefix, tenantID)
	raw, err := s.redis.GetValue(ctx, key)
	if err != nil {
		if err == voiceredis.ErrKeyNotExist {
			return nil, apperr.New(apperr.NotFound, "no config published for tenant")
		}
		return nil, apperr.Wrap(apperr.Unavailable, "config load failed", err)
	}

	cfg, err := s.parseAndValidate(raw)
	if err != nil {
		return nil, err
	}

	s.store(tenantID, cfg)
	return s.copyOut(cfg), nil
}

// Invalidate evicts tenantID from the cache, used when a publish
// notification arrives out of band (spec.md §4.A "explicit publish
// notification").
func (s *Store) Invalidate(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tenantID)
}

func (s *Store) parseAndValidate(raw string) (*domain.RuntimeTenantConfig, error) {
	var cfg domain.RuntimeTenantConfig
	if err := cfg.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "tenant config is not valid JSON", err)
	}
	if err := s.validate.Struct(&cfg); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "tenant config failed schema validation", err)
	}

	count := 0
	if cfg.WebhookSecret != "" {
		count++
	}
	if cfg.WebhookSecretRef != "" {
		count++
	}
	if count != 1 {
		return nil, apperr.New(apperr.Internal, "tenant config must set exactly one of webhookSecret or webhookSecretRef")
	}
	if cfg.WebhookSecretRef != "" {
		resolved, err := resolveSecretRef(cfg.WebhookSecretRef)
		if err != nil {
			logger.Base().Warn("webhookSecretRef did not resolve", zap.String("tenant_id", cfg.TenantID), zap.Error(err))
		}
		cfg.WebhookSecret = resolved
	}

	return &cfg, nil
}

// resolveSecretRef resolves an "env:VAR" indirection to the named process
// environment variable, yielding "" if missing or the prefix is absent
// (spec.md §4.A).
func resolveSecretRef(ref string) (string, error) {
	const prefix = "env:"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("unsupported secret ref scheme: %s", ref)
	}
	varName := strings.TrimPrefix(ref, prefix)
	return os.Getenv(varName), nil
}

func (s *Store) fromCache(tenantID string) (*domain.RuntimeTenantConfig, bool) {
	s.mu.RLock()
	entry, ok := s.entries[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(entry.loadedAt) > s.ttl {
		return nil, false
	}

	s.mu.Lock()
	entry.lastAccess = time.Now()
	s.mu.Unlock()

	return s.copyOut(entry.cfg), true
}

func (s *Store) store(tenantID string, cfg *domain.RuntimeTenantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[tenantID] = &cacheEntry{
		cfg:        cfg,
		loadedAt:   time.Now(),
		lastAccess: time.Now(),
	}
}

// evictOldestLocked drops the least-recently-accessed entry. Called with
// s.mu held for writing.
func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.lastAccess.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// copyOut deep-copies cfg so cache entries are never mutated by callers,
// mirroring the teacher's copyAgent pattern in internal/cache/agent_cache.go.
func (s *Store) copyOut(cfg *domain.RuntimeTenantConfig) *domain.RuntimeTenantConfig {
	if cfg == nil {
		return nil
	}
	var out domain.RuntimeTenantConfig
	if err := copier.CopyWithOption(&out, cfg, copier.Option{DeepCopy: true}); err != nil {
		logger.Base().Warn("failed to deep-copy tenant config, returning shared pointer", zap.Error(err))
		return cfg
	}
	return &out
}
