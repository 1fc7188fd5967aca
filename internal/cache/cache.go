// Package cache is the content-addressed result cache. Entries are JSON
// compressed with zstd, expire by TTL, and are evicted least recently used
// first. A fast in-memory tier sits over an optional persistent Tier.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultTTL applies when Store is called without a TTL.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is one cached value.
type Entry struct {
	Key            string            `json:"key"`
	Payload        []byte            `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SizeBytes      int64             `json:"size_bytes"`
	OriginalSize   int64             `json:"original_size"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int64             `json:"access_count"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CachedResult is a decoded cache hit.
type CachedResult struct {
	Key            string
	Value          json.RawMessage
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	ExpiresAt      time.Time
}

// Decode unmarshals the cached value into v.
func (r *CachedResult) Decode(v any) error {
	return eris.Wrap(json.Unmarshal(r.Value, v), "cache: decode value")
}

// Tier is a persistent backing store. Get returns nil, nil on a miss.
// List returns entries without payloads.
type Tier interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Touch(ctx context.Context, key string, at time.Time, accessCount int64) error
	Delete(ctx context.Context, keys ...string) error
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Stats reports cache occupancy and counters.
type Stats struct {
	Entries          int     `json:"entries"`
	SizeBytes        int64   `json:"size_bytes"`
	OriginalBytes    int64   `json:"original_bytes"`
	CompressionRatio float64 `json:"compression_ratio"`
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Evictions        int64   `json:"evictions"`
	Expirations      int64   `json:"expirations"`
	MaxSizeBytes     int64   `json:"max_size_bytes"`
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	tier    Tier
	maxSize int64
	ttl     time.Duration
	now     func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	hits, misses, evictions, expirations int64
}

// Option configures a Store.
type Option func(*Store)

// WithTier adds a persistent tier below the memory tier.
func WithTier(t Tier) Option {
	return func(s *Store) { s.tier = t }
}

// WithMaxSize bounds the total compressed size; Store evicts when exceeded.
func WithMaxSize(bytes int64) Option {
	return func(s *Store) { s.maxSize = bytes }
}

// WithDefaultTTL sets the TTL used when Store receives a non-positive TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store.
func New(opts ...Option) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, eris.Wrap(err, "cache: create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, eris.Wrap(err, "cache: create zstd decoder")
	}

	s := &Store{
		entries: make(map[string]*Entry),
		ttl:     DefaultTTL,
		now:     func() time.Time { return time.Now().UTC() },
		enc:     enc,
		dec:     dec,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases codecs and the persistent tier.
func (s *Store) Close() error {
	s.dec.Close()
	var err error
	if cerr := s.enc.Close(); cerr != nil {
		err = eris.Wrap(cerr, "cache: close encoder")
	}
	if s.tier != nil {
		if cerr := s.tier.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "cache: close tier")
		}
	}
	return err
}

// Lookup returns the value for key. Expired entries are misses and are
// removed. Every hit updates LastAccessedAt and AccessCount.
func (s *Store) Lookup(ctx context.Context, key string) (*CachedResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok && s.tier != nil {
		loaded, err := s.tier.Get(ctx, key)
		if err != nil {
			return nil, false, eris.Wrapf(err, "cache: tier get %s", key)
		}
		if loaded != nil {
			e, ok = loaded, true
			s.entries[key] = loaded
		}
	}
	if !ok {
		s.misses++
		return nil, false, nil
	}

	if e.expired(now) {
		s.removeLocked(ctx, key)
		s.expirations++
		s.misses++
		return nil, false, nil
	}

	raw, err := s.dec.DecodeAll(e.Payload, nil)
	if err != nil {
		// A corrupt payload is dropped and reported as a miss.
		zap.L().Warn("cache: corrupt entry dropped", zap.String("key", key), zap.Error(err))
		s.removeLocked(ctx, key)
		s.misses++
		return nil, false, nil
	}

	e.LastAccessedAt = now
	e.AccessCount++
	s.hits++
	if s.tier != nil {
		if err := s.tier.Touch(ctx, key, now, e.AccessCount); err != nil {
			zap.L().Warn("cache: tier touch failed", zap.String("key", key), zap.Error(err))
		}
	}

	return &CachedResult{
		Key:            key,
		Value:          raw,
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		AccessCount:    e.AccessCount,
		ExpiresAt:      e.ExpiresAt,
	}, true, nil
}

// Store caches value under key for ttl. A non-positive ttl uses the default.
func (s *Store) Store(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return eris.Wrapf(err, "cache: marshal %s", key)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	payload := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	ratio := 0.0
	if len(payload) > 0 {
		ratio = float64(len(raw)) / float64(len(payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := &Entry{
		Key:            key,
		Payload:        payload,
		Metadata:       map[string]string{"encoding": "zstd+json"},
		SizeBytes:      int64(len(payload)),
		OriginalSize:   int64(len(raw)),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}
	if s.tier != nil {
		if err := s.tier.Put(ctx, e); err != nil {
			return eris.Wrapf(err, "cache: tier put %s", key)
		}
	}
	s.entries[key] = e

	zap.L().Debug("cache: stored",
		zap.String("key", key),
		zap.Int("original_bytes", len(raw)),
		zap.Int("compressed_bytes", len(payload)),
		zap.Float64("compression_ratio", ratio),
	)

	if s.maxSize > 0 {
		if _, err := s.evictLocked(ctx, s.maxSize); err != nil {
			zap.L().Warn("cache: eviction after store failed", zap.Error(err))
		}
	}
	return nil
}

// EvictLRU removes least recently accessed entries until the total
// compressed size is at most targetSizeBytes. It returns the number evicted.
func (s *Store) EvictLRU(ctx context.Context, targetSizeBytes int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(ctx, targetSizeBytes)
}

// CleanupExpired removes entries past their expiry or, when maxAge > 0,
// created more than maxAge ago. It returns the number removed.
func (s *Store) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.snapshotLocked(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var doomed []string
	for _, e := range all {
		stale := maxAge > 0 && now.Sub(e.CreatedAt) > maxAge
		if e.expired(now) || stale {
			doomed = append(doomed, e.Key)
		}
	}
	if err := s.deleteLocked(ctx, doomed); err != nil {
		return 0, err
	}
	s.expirations += int64(len(doomed))
	return len(doomed), nil
}

// Stats returns a snapshot of occupancy and counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.snapshotLocked(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Entries:      len(all),
		Hits:         s.hits,
		Misses:       s.misses,
		Evictions:    s.evictions,
		Expirations:  s.expirations,
		MaxSizeBytes: s.maxSize,
	}
	for _, e := range all {
		st.SizeBytes += e.SizeBytes
		st.OriginalBytes += e.OriginalSize
	}
	if st.SizeBytes > 0 {
		st.CompressionRatio = float64(st.OriginalBytes) / float64(st.SizeBytes)
	}
	return st, nil
}

func (s *Store) evictLocked(ctx context.Context, target int64) (int, error) {
	all, err := s.snapshotLocked(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range all {
		total += e.SizeBytes
	}
	if total <= target {
		return 0, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastAccessedAt.Before(all[j].LastAccessedAt)
	})

	var doomed []string
	for _, e := range all {
		if total <= target {
			break
		}
		doomed = append(doomed, e.Key)
		total -= e.SizeBytes
	}
	if err := s.deleteLocked(ctx, doomed); err != nil {
		return 0, err
	}
	s.evictions += int64(len(doomed))

	zap.L().Info("cache: evicted entries",
		zap.Int("evicted", len(doomed)),
		zap.Int64("target_bytes", target),
		zap.Int64("remaining_bytes", total),
	)
	return len(doomed), nil
}

// snapshotLocked merges memory and tier metadata, preferring the most
// recent access time seen by either.
func (s *Store) snapshotLocked(ctx context.Context) ([]Entry, error) {
	merged := make(map[string]Entry, len(s.entries))
	if s.tier != nil {
		listed, err := s.tier.List(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "cache: tier list")
		}
		for _, e := range listed {
			merged[e.Key] = e
		}
	}
	for k, e := range s.entries {
		if prev, ok := merged[k]; ok && prev.LastAccessedAt.After(e.LastAccessedAt) {
			continue
		}
		meta := *e
		meta.Payload = nil
		merged[k] = meta
	}

	out := make([]Entry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) deleteLocked(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if s.tier != nil {
		if err := s.tier.Delete(ctx, keys...); err != nil {
			return eris.Wrap(err, "cache: tier delete")
		}
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *Store) removeLocked(ctx context.Context, key string) {
	if err := s.deleteLocked(ctx, []string{key}); err != nil {
		zap.L().Warn("cache: remove failed", zap.String("key", key), zap.Error(err))
		delete(s.entries, key)
	}
}
