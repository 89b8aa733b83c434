package queue

import (
	"testing"
	"time"

	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/XaviArnaus/janitor/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) (*Queue, storage.StorageInterface) {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return New(st, ""), st
}

func item(text string, publishedAt time.Time) *models.QueueItem {
	return &models.QueueItem{
		Message:     models.Message{Text: text},
		PublishedAt: publishedAt,
	}
}

var (
	day1 = time.Date(2023, 3, 21, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2023, 3, 22, 0, 0, 0, 0, time.UTC)
	day3 = time.Date(2023, 3, 23, 0, 0, 0, 0, time.UTC)
)

func TestQueue_AppendPopIsFIFO(t *testing.T) {
	q, _ := newQueue(t)
	q.Append(item("one", day1))
	q.Append(item("two", day2))

	assert.Equal(t, 2, q.Length())
	assert.Equal(t, "one", q.Pop().Message.Text)
	assert.Equal(t, "two", q.Pop().Message.Text)
	assert.Nil(t, q.Pop())
	assert.True(t, q.IsEmpty())
}

func TestQueue_Unpop(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
	}{
		{name: "empty queue", existing: nil},
		{name: "one item", existing: []string{"one"}},
		{name: "several items", existing: []string{"one", "two", "three"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := newQueue(t)
			for _, text := range tt.existing {
				q.Append(item(text, day1))
			}

			q.Unpop(item("requeued", day3))

			assert.Equal(t, len(tt.existing)+1, q.Length())
			assert.Equal(t, "requeued", q.First().Message.Text)
			assert.Equal(t, "requeued", q.All()[0].Message.Text)
		})
	}
}

func TestQueue_FirstLast(t *testing.T) {
	q, _ := newQueue(t)
	assert.Nil(t, q.First())
	assert.Nil(t, q.Last())

	q.Append(item("one", day1))
	q.Append(item("two", day2))
	assert.Equal(t, "one", q.First().Message.Text)
	assert.Equal(t, "two", q.Last().Message.Text)
	assert.Equal(t, 2, q.Length())
}

func TestQueue_SortByDate(t *testing.T) {
	q, _ := newQueue(t)
	q.Append(item("three", day3))
	q.Append(item("one", day1))
	q.Append(item("two", day2))

	q.SortByDate()

	var texts []string
	for _, i := range q.All() {
		texts = append(texts, i.Message.Text)
	}
	assert.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestQueue_Deduplicate(t *testing.T) {
	q, _ := newQueue(t)
	q.Append(&models.QueueItem{Message: models.Message{Summary: "s", Text: "same"}, PublishedAt: day1})
	q.Append(item("other", day2))
	q.Append(&models.QueueItem{Message: models.Message{Summary: "s", Text: "same"}, PublishedAt: day3})
	q.Append(item("same", day3))

	q.Deduplicate()
	once := q.All()
	q.Deduplicate()
	twice := q.All()

	require.Len(t, once, 3)
	assert.Equal(t, once, twice)
	assert.Equal(t, day1, once[0].PublishedAt)
	assert.Equal(t, "other", once[1].Message.Text)
	assert.Equal(t, "same", once[2].Message.Text)
	assert.Equal(t, "", once[2].Message.Summary)
}

func TestQueue_Clean(t *testing.T) {
	q, _ := newQueue(t)
	q.Append(item("one", day1))
	q.Clean()
	assert.True(t, q.IsEmpty())
}

func TestQueue_SaveAndLoad(t *testing.T) {
	q, st := newQueue(t)
	q.Append(&models.QueueItem{
		Message:     models.Message{Summary: "Heads up", Text: "disk is full", Severity: models.SeverityWarning},
		Media:       []models.MessageMedia{{URL: "https://example.com/a.png", AltText: "a"}},
		PublishedAt: day1,
	})
	q.Append(item("two", day2))
	require.NoError(t, q.Save())

	other := New(st, DefaultFile)
	n, err := other.Load()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first := other.First()
	assert.Equal(t, "Heads up", first.Message.Summary)
	assert.Equal(t, "disk is full", first.Message.Text)
	assert.Equal(t, models.SeverityWarning, first.Message.Severity)
	assert.Equal(t, []models.MessageMedia{{URL: "https://example.com/a.png", AltText: "a"}}, first.Media)
	assert.True(t, day1.Equal(first.PublishedAt))
	assert.True(t, day2.Equal(other.Last().PublishedAt))
}

func TestQueue_LoadDoesNotHappenImplicitly(t *testing.T) {
	q, st := newQueue(t)
	q.Append(item("one", day1))
	require.NoError(t, q.Save())

	other := New(st, DefaultFile)
	assert.True(t, other.IsEmpty())

	n, err := other.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_LoadMissingFile(t *testing.T) {
	q, _ := newQueue(t)
	q.Append(item("one", day1))

	n, err := q.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, q.IsEmpty())
}

func TestQueue_LoadRejectsUnknownMessageType(t *testing.T) {
	q, st := newQueue(t)
	require.NoError(t, st.Store(DefaultFile, []byte(
		"queue:\n  - message:\n      text: hi\n      message_type: shouting\n    published_at: 1679356800\n")))

	_, err := q.Load()
	assert.Error(t, err)
}

func TestQueue_LoadWithoutTimestamp(t *testing.T) {
	q, st := newQueue(t)
	require.NoError(t, st.Store(DefaultFile, []byte(
		"queue:\n"+
			"  - message:\n      text: dated\n      message_type: none\n    published_at: 1679356800\n"+
			"  - message:\n      text: undated\n      message_type: none\n")))

	for i := 0; i < 2; i++ {
		n, err := q.Load()
		require.NoError(t, err)
		require.Equal(t, 2, n)

		q.SortByDate()
		assert.Equal(t, "undated", q.First().Message.Text)
		assert.True(t, time.Unix(0, 0).Equal(q.First().PublishedAt))
	}

	require.NoError(t, q.Save())
	other := New(st, DefaultFile)
	_, err := other.Load()
	require.NoError(t, err)
	assert.Equal(t, "undated", other.First().Message.Text)
	assert.True(t, time.Unix(0, 0).Equal(other.First().PublishedAt))
}

func TestQueue_Update(t *testing.T) {
	q, st := newQueue(t)
	q.Append(item("two", day2))
	q.Append(item("one", day1))
	q.Append(item("two", day3))
	require.NoError(t, q.Update())

	other := New(st, DefaultFile)
	n, err := other.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "one", other.First().Message.Text)
	assert.True(t, day2.Equal(other.Last().PublishedAt))
}
