package commentary

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cricline/cricsync/types"
)

const (
	DefaultMaxItems          = 500
	DefaultFullPageThreshold = 20
)

// Merger folds unordered batches of the append-only commentary feed into
// one ordered, deduplicated, size-bounded view. The synthetic item
// timestamp is the only ordering and dedup key; items are never compared
// across innings.
type Merger struct {
	logger            types.Logger
	maxItems          int
	fullPageThreshold int

	mu          sync.Mutex
	items       []types.CommentaryItem
	seen        map[int64]struct{}
	inningsID   int
	hasMore     bool
	subscribers map[int]func(types.CommentaryState)
	nextSubID   int
}

func NewMerger(cfg *types.CommentaryConfig, logger types.Logger) *Merger {
	maxItems := DefaultMaxItems
	threshold := DefaultFullPageThreshold
	if cfg != nil {
		if cfg.MaxItems > 0 {
			maxItems = cfg.MaxItems
		}
		if cfg.FullPageThreshold > 0 {
			threshold = cfg.FullPageThreshold
		}
	}

	return &Merger{
		logger:            logger,
		maxItems:          maxItems,
		fullPageThreshold: threshold,
		seen:              make(map[int64]struct{}),
		hasMore:           true,
		subscribers:       make(map[int]func(types.CommentaryState)),
	}
}

// UpdateWithNewItems merges a batch of newer items at the head of the
// view. A batch of nothing but duplicates leaves the state untouched and
// fires no publish, so repeated polls of the same page are free.
func (m *Merger) UpdateWithNewItems(items []types.CommentaryItem) bool {
	m.mu.Lock()

	unique := m.filterUniqueLocked(items)
	if len(unique) == 0 {
		m.mu.Unlock()
		return false
	}

	m.items = append(unique, m.items...)
	m.normalizeLocked()

	state := m.stateLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.publish(state, subs)
	return true
}

// AddOlderItems merges a paginated batch of history at the tail. An
// all-duplicate (or empty) batch is the defined signal that pagination
// has reached the start of the feed: hasMore latches false until the next
// SetInnings.
func (m *Merger) AddOlderItems(items []types.CommentaryItem) bool {
	m.mu.Lock()

	unique := m.filterUniqueLocked(items)
	if len(unique) == 0 {
		changed := m.hasMore
		m.hasMore = false

		if !changed {
			m.mu.Unlock()
			return false
		}

		state := m.stateLocked()
		subs := m.subscribersLocked()
		m.mu.Unlock()

		m.publish(state, subs)
		return true
	}

	// A short page probably means the feed start is near; a full page
	// probably means more history exists. This is a heuristic carried
	// over from the feed's behavior, not a server guarantee.
	m.hasMore = len(unique) >= m.fullPageThreshold

	m.items = append(m.items, unique...)
	m.normalizeLocked()

	state := m.stateLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.publish(state, subs)
	return true
}

// SetInnings discards all state and rebuilds from the given items.
// Commentary numbering is not comparable across innings, so nothing
// survives the switch.
func (m *Merger) SetInnings(inningsID int, items []types.CommentaryItem) {
	m.mu.Lock()

	m.inningsID = inningsID
	m.items = nil
	m.seen = make(map[int64]struct{})
	m.hasMore = true

	unique := m.filterUniqueLocked(items)
	m.items = unique
	m.normalizeLocked()

	state := m.stateLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.logger.Debug("Innings reset",
		zap.Int("innings_id", inningsID),
		zap.Int("items", len(unique)))

	m.publish(state, subs)
}

func (m *Merger) State() types.CommentaryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Subscribe registers a callback fired on every state change. The
// returned function unsubscribes.
func (m *Merger) Subscribe(fn func(types.CommentaryState)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// filterUniqueLocked drops duplicates and items without a usable synthetic
// timestamp, registering the survivors in the dedup set.
func (m *Merger) filterUniqueLocked(items []types.CommentaryItem) []types.CommentaryItem {
	var unique []types.CommentaryItem
	for _, item := range items {
		if item.Timestamp == 0 {
			m.logger.Debug("Dropping commentary item without timestamp",
				zap.String("type", item.Type))
			continue
		}
		if _, dup := m.seen[item.Timestamp]; dup {
			continue
		}
		m.seen[item.Timestamp] = struct{}{}
		unique = append(unique, item)
	}
	return unique
}

// normalizeLocked restores the ordering invariant and the size bound:
// descending by timestamp, at most maxItems entries.
func (m *Merger) normalizeLocked() {
	sort.Slice(m.items, func(i, j int) bool {
		return m.items[i].Timestamp > m.items[j].Timestamp
	})

	if len(m.items) > m.maxItems {
		for _, dropped := range m.items[m.maxItems:] {
			delete(m.seen, dropped.Timestamp)
		}
		m.items = m.items[:m.maxItems]
	}
}

func (m *Merger) stateLocked() types.CommentaryState {
	state := types.CommentaryState{
		InningsID: m.inningsID,
		HasMore:   m.hasMore,
	}

	if len(m.items) > 0 {
		state.Items = make([]types.CommentaryItem, len(m.items))
		copy(state.Items, m.items)
		state.NewestTimestamp = m.items[0].Timestamp
		state.OldestTimestamp = m.items[len(m.items)-1].Timestamp
	}

	return state
}

func (m *Merger) subscribersLocked() []func(types.CommentaryState) {
	subs := make([]func(types.CommentaryState), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func (m *Merger) publish(state types.CommentaryState, subs []func(types.CommentaryState)) {
	for _, fn := range subs {
		fn(state)
	}
}

// AssignTimestamps fills in synthetic timestamps for items that lack one,
// derived from the over/ball sequence so ordering and dedup stay stable
// within an innings.
func AssignTimestamps(items []types.CommentaryItem, inningsID int) {
	for i := range items {
		if items[i].Timestamp != 0 {
			continue
		}
		ballSeq := int64(math.Round(items[i].OverNumber * 10))
		items[i].Timestamp = int64(inningsID)*1_000_000_000 + ballSeq*1000
	}
}
