// Package queue implements the durable FIFO of messages waiting to be
// published.
//
// The in-memory list is owned by one Queue value. Nothing is read or written
// implicitly: callers Load before relying on the stored state and Save after
// mutating it.
package queue

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/XaviArnaus/janitor/internal/storage"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "storage/queue.yaml"

// Queue is an ordered list of QueueItem persisted in a storage document
type Queue struct {
	storage  storage.StorageInterface
	filename string
	items    []*models.QueueItem
}

// New creates an empty queue bound to filename. It does not load it.
func New(st storage.StorageInterface, filename string) *Queue {
	if filename == "" {
		filename = DefaultFile
	}
	return &Queue{storage: st, filename: filename}
}

type document struct {
	Queue []record `yaml:"queue"`
}

type record struct {
	Message     models.Message        `yaml:"message"`
	Media       []models.MessageMedia `yaml:"media"`
	PublishedAt float64               `yaml:"published_at"`
}

// Load replaces the in-memory list with the stored one and returns its length
func (q *Queue) Load() (int, error) {
	data, err := q.storage.Retrieve(q.filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			q.items = nil
			return 0, nil
		}
		return q.Length(), fmt.Errorf("failed to read queue: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return q.Length(), fmt.Errorf("failed to parse queue %s: %w", q.filename, err)
	}

	items := make([]*models.QueueItem, 0, len(doc.Queue))
	for _, r := range doc.Queue {
		items = append(items, &models.QueueItem{
			Message:     r.Message,
			Media:       r.Media,
			PublishedAt: fromTimestamp(r.PublishedAt),
		})
	}
	q.items = items

	logrus.Debugf("Loaded %d queued items from %s", len(items), q.filename)
	return len(items), nil
}

// Save writes the in-memory list to storage
func (q *Queue) Save() error {
	logrus.Debug("Saving the queue")

	doc := document{Queue: make([]record, 0, len(q.items))}
	for _, item := range q.items {
		doc.Queue = append(doc.Queue, record{
			Message:     item.Message,
			Media:       item.Media,
			PublishedAt: toTimestamp(item.PublishedAt),
		})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	if err := q.storage.Store(q.filename, data); err != nil {
		return fmt.Errorf("failed to write queue: %w", err)
	}
	return nil
}

// Append adds an item at the end
func (q *Queue) Append(item *models.QueueItem) {
	q.items = append(q.items, item)
}

// Pop removes and returns the first item, or nil when empty
func (q *Queue) Pop() *models.QueueItem {
	if q.IsEmpty() {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

// Unpop puts an item back at the head, ahead of anything already queued
func (q *Queue) Unpop(item *models.QueueItem) {
	q.items = append([]*models.QueueItem{item}, q.items...)
}

// SortByDate orders the items by PublishedAt, oldest first. Items with the
// same timestamp keep their relative order.
func (q *Queue) SortByDate() {
	logrus.Debug("Sorting queue by date ASC")
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].PublishedAt.Before(q.items[j].PublishedAt)
	})
}

// Deduplicate drops every item whose summary and text already appeared
// earlier in the queue.
func (q *Queue) Deduplicate() {
	logrus.Debug("Deduplicating queue")
	seen := make(map[string]struct{}, len(q.items))
	deduped := make([]*models.QueueItem, 0, len(q.items))
	for _, item := range q.items {
		key := item.UniqueValue()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, item)
	}
	q.items = deduped
}

// Update sorts, deduplicates and saves
func (q *Queue) Update() error {
	q.SortByDate()
	q.Deduplicate()
	return q.Save()
}

func (q *Queue) IsEmpty() bool {
	return len(q.items) == 0
}

func (q *Queue) Length() int {
	return len(q.items)
}

// All returns a copy of the items in order
func (q *Queue) All() []*models.QueueItem {
	out := make([]*models.QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Clean empties the in-memory list
func (q *Queue) Clean() {
	q.items = nil
}

// First returns the head without removing it, or nil when empty
func (q *Queue) First() *models.QueueItem {
	if q.IsEmpty() {
		return nil
	}
	return q.items[0]
}

// Last returns the tail without removing it, or nil when empty
func (q *Queue) Last() *models.QueueItem {
	if q.IsEmpty() {
		return nil
	}
	return q.items[len(q.items)-1]
}

// toTimestamp stores t as Unix seconds with microsecond decimals. A zero
// time is stored as 0.
func toTimestamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

func fromTimestamp(ts float64) time.Time {
	if ts == 0 {
		return time.Unix(0, 0)
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
