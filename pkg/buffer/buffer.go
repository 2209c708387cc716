package buffer

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sightline-labs/sightline/pkg/domain"
)

// Config sizes the per-source buffers.
type Config struct {
	// PerSourceCapacity caps how many events each source kind retains.
	PerSourceCapacity int
	// MaxEventAge is the oldest an event may be, in microseconds, before the
	// periodic sweep evicts it regardless of capacity.
	MaxEventAge int64
	// BucketSize is the span of one window bucket, in microseconds.
	BucketSize int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PerSourceCapacity: 1000,
		MaxEventAge:       5 * 60 * 1_000_000,
		BucketSize:        1_000_000,
	}
}

// Validate rejects sizes that cannot work.
func (c Config) Validate() error {
	if c.PerSourceCapacity <= 0 {
		return fmt.Errorf("per-source capacity must be positive, got %d", c.PerSourceCapacity)
	}
	if c.MaxEventAge <= 0 {
		return fmt.Errorf("max event age must be positive, got %d", c.MaxEventAge)
	}
	if c.BucketSize <= 0 {
		return fmt.Errorf("bucket size must be positive, got %d", c.BucketSize)
	}
	return nil
}

// sourceBuffer holds one source kind's events, bucketed by window key.
// Events inside a bucket are kept in ascending timestamp order, and the
// sorted key list keeps cross-bucket iteration ordered without full scans.
type sourceBuffer struct {
	buckets map[int64][]domain.TimestampedEvent
	keys    []int64 // sorted ascending
	size    int
}

// Buffer is the bounded, age-evicting, per-source ordered event store.
type Buffer struct {
	mu      sync.RWMutex
	cfg     Config
	logger  *zap.Logger
	sources map[domain.SourceKind]*sourceBuffer
	evicted uint64
}

// New builds a buffer; the configuration is validated at construction and
// invalid sizes are fatal here, never later.
func New(cfg Config, logger *zap.Logger) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		cfg:     cfg,
		logger:  logger,
		sources: make(map[domain.SourceKind]*sourceBuffer),
	}, nil
}

// Add inserts an event into its source's ordered buffer. When the source is
// at capacity the oldest event is evicted first.
func (b *Buffer) Add(event domain.TimestampedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.sources[event.SourceKind]
	if sb == nil {
		sb = &sourceBuffer{buckets: make(map[int64][]domain.TimestampedEvent)}
		b.sources[event.SourceKind] = sb
	}

	key := domain.BucketKey(event.Timestamp, b.cfg.BucketSize)
	bucket := sb.buckets[key]
	if len(bucket) == 0 {
		idx := sort.Search(len(sb.keys), func(i int) bool { return sb.keys[i] >= key })
		sb.keys = append(sb.keys, 0)
		copy(sb.keys[idx+1:], sb.keys[idx:])
		sb.keys[idx] = key
	}

	// Events almost always arrive in order, so the common case is append.
	idx := len(bucket)
	for idx > 0 && bucket[idx-1].Timestamp > event.Timestamp {
		idx--
	}
	bucket = append(bucket, domain.TimestampedEvent{})
	copy(bucket[idx+1:], bucket[idx:])
	bucket[idx] = event
	sb.buckets[key] = bucket
	sb.size++

	if sb.size > b.cfg.PerSourceCapacity {
		b.evictOldest(sb)
	}
}

// evictOldest drops the earliest event of the source. Caller holds the lock.
func (b *Buffer) evictOldest(sb *sourceBuffer) {
	if len(sb.keys) == 0 {
		return
	}
	key := sb.keys[0]
	bucket := sb.buckets[key]
	sb.buckets[key] = bucket[1:]
	sb.size--
	b.evicted++
	if len(sb.buckets[key]) == 0 {
		delete(sb.buckets, key)
		sb.keys = sb.keys[1:]
	}
}

// EventsInWindow returns, ascending by time, the buffered events of a source
// within [center-window, center+window]. Only the buckets overlapping the
// window are visited.
func (b *Buffer) EventsInWindow(kind domain.SourceKind, center, window int64) []domain.TimestampedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sb := b.sources[kind]
	if sb == nil {
		return nil
	}

	lo := domain.BucketKey(center-window, b.cfg.BucketSize)
	hi := domain.BucketKey(center+window, b.cfg.BucketSize)
	w := domain.WindowAround(center, window)

	var out []domain.TimestampedEvent
	start := sort.Search(len(sb.keys), func(i int) bool { return sb.keys[i] >= lo })
	for i := start; i < len(sb.keys) && sb.keys[i] <= hi; i++ {
		for _, e := range sb.buckets[sb.keys[i]] {
			if w.Contains(e.Timestamp) {
				out = append(out, e)
			}
		}
	}
	return out
}

// SweepExpired evicts everything older than MaxEventAge relative to now,
// regardless of capacity. Returns the number of evicted events.
func (b *Buffer) SweepExpired(now int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now - b.cfg.MaxEventAge
	removed := 0
	for _, sb := range b.sources {
		for len(sb.keys) > 0 {
			key := sb.keys[0]
			bucket := sb.buckets[key]
			n := sort.Search(len(bucket), func(i int) bool { return bucket[i].Timestamp >= cutoff })
			if n == 0 {
				break
			}
			sb.buckets[key] = bucket[n:]
			sb.size -= n
			removed += n
			if len(sb.buckets[key]) == 0 {
				delete(sb.buckets, key)
				sb.keys = sb.keys[1:]
				continue
			}
			break
		}
	}
	if removed > 0 {
		b.evicted += uint64(removed)
		b.logger.Debug("age sweep evicted events", zap.Int("count", removed))
	}
	return removed
}

// Size returns the number of buffered events for one source kind.
func (b *Buffer) Size(kind domain.SourceKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sb := b.sources[kind]; sb != nil {
		return sb.size
	}
	return 0
}

// TotalSize returns the number of buffered events across all sources.
func (b *Buffer) TotalSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, sb := range b.sources {
		total += sb.size
	}
	return total
}

// Evicted returns how many events have left the buffer by capacity or age.
func (b *Buffer) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}

// All returns every buffered event in ascending time order across sources.
// Used for export snapshots, not on the hot path.
func (b *Buffer) All() []domain.TimestampedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.TimestampedEvent
	for _, sb := range b.sources {
		for _, key := range sb.keys {
			out = append(out, sb.buckets[key]...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Clear atomically empties all per-source buffers (session reset).
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = make(map[domain.SourceKind]*sourceBuffer)
}
