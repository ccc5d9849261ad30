package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiget/parser/internal/domain"
	"spiget/parser/internal/domain/task"
	"spiget/parser/internal/metrics"
	"spiget/parser/internal/parser"
)

type fakeExtractor struct {
	results map[string]*parser.Extraction
	errs    map[string]error
}

func (e *fakeExtractor) ParseFragment(_ context.Context, html string) (*parser.Extraction, error) {
	if err, ok := e.errs[html]; ok {
		return nil, err
	}
	if extraction, ok := e.results[html]; ok {
		return extraction, nil
	}
	return nil, &parser.StructuralFault{Field: "id", Err: parser.ErrMissingNode}
}

type fakeRepository struct {
	mu    sync.Mutex
	saved []*domain.ListedResource
	err   error
}

func (r *fakeRepository) EnsureSchema(context.Context) error { return nil }

func (r *fakeRepository) SaveResources(_ context.Context, resources []*domain.ListedResource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, resources...)
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	added []task.Task
	acked []string
}

func (q *fakeQueue) AddTask(_ context.Context, t task.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.added = append(q.added, t)
	return "1-0", nil
}

func (q *fakeQueue) GetTask(context.Context, string, string, string) (*redis.XMessage, error) {
	return nil, nil
}

func (q *fakeQueue) AckTask(_ context.Context, stream, _, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, stream+"/"+msgID)
	return nil
}

func (q *fakeQueue) CreateGroup(context.Context, string, string) error { return nil }

func (q *fakeQueue) AutoClaim(context.Context, string, string, string, time.Duration) ([]redis.XMessage, error) {
	return nil, nil
}

func (q *fakeQueue) EnsureStreamsExist(context.Context) error { return nil }

func (q *fakeQueue) StreamName(taskType string) string { return "test:" + taskType }

type fakeClient struct {
	page  *domain.ListPage
	pages []*domain.ListPage
	err   error
}

func (c *fakeClient) GetListPage(_ context.Context, pageNumber int) (*domain.ListPage, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.page, nil
}

func (c *fakeClient) GetAllListPagesCh(_ context.Context, startPage int) (int, chan *domain.ListPage, error) {
	ch := make(chan *domain.ListPage, len(c.pages))
	for _, page := range c.pages {
		if page.PageNumber >= startPage {
			ch <- page
		}
	}
	close(ch)
	return len(c.pages), ch, nil
}

func (c *fakeClient) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type fakeState struct {
	last  int
	saved []int
}

func (s *fakeState) GetLastProcessedPage(context.Context) (int, error) { return s.last, nil }

func (s *fakeState) SetLastProcessedPage(_ context.Context, pageNumber int) error {
	s.saved = append(s.saved, pageNumber)
	return nil
}

func extraction(id int, warnings ...parser.Warning) *parser.Extraction {
	return &parser.Extraction{
		Resource: &domain.ListedResource{ID: id},
		Warnings: warnings,
	}
}

type fixture struct {
	service    *Service
	extractor  *fakeExtractor
	repository *fakeRepository
	queue      *fakeQueue
	client     *fakeClient
	state      *fakeState
	metrics    *metrics.Metrics
}

func newFixture() *fixture {
	f := &fixture{
		extractor:  &fakeExtractor{results: map[string]*parser.Extraction{}, errs: map[string]error{}},
		repository: &fakeRepository{},
		queue:      &fakeQueue{},
		client:     &fakeClient{},
		state:      &fakeState{},
		metrics:    metrics.New(),
	}
	f.service = NewService(f.repository, f.client, f.extractor, f.queue, f.state, f.metrics, Options{
		MaxWorkers:      4,
		MinSaveInterval: 2,
		MaxItemRetries:  2,
		GroupName:       "test_group",
	})
	return f
}

func TestExtractPageKeepsInputOrder(t *testing.T) {
	f := newFixture()
	fragments := make([]string, 20)
	for i := range fragments {
		fragments[i] = string(rune('a' + i))
		f.extractor.results[fragments[i]] = extraction(i + 1)
	}

	results := f.service.extractPage(context.Background(), fragments)

	require.Len(t, results, len(fragments))
	for i, result := range results {
		require.NoError(t, result.err)
		assert.Equal(t, i+1, result.extraction.Resource.ID)
		assert.Equal(t, fragments[i], result.fragment)
	}
}

func TestProcessPageSkipsFailedFragments(t *testing.T) {
	f := newFixture()
	f.extractor.results["ok-1"] = extraction(1)
	f.extractor.results["ok-2"] = extraction(2, parser.Warning{Field: "span.cost", Value: "free", Reason: "Unable to parse price"})
	f.extractor.errs["io"] = &parser.IOFault{URL: "https://example.test/x.png", Err: errors.New("reset")}

	err := f.service.processPage(context.Background(), &task.ResourcePageTask{
		PageNumber: 7,
		Fragments:  []string{"ok-1", "broken", "io", "ok-2"},
	})

	require.NoError(t, err)
	require.Len(t, f.repository.saved, 2)
	assert.Equal(t, 1, f.repository.saved[0].ID)
	assert.Equal(t, 2, f.repository.saved[1].ID)

	require.Len(t, f.queue.added, 1)
	retry, ok := f.queue.added[0].(*task.ResourceRetryTask)
	require.True(t, ok)
	assert.Equal(t, 7, retry.PageNumber)
	assert.Equal(t, "io", retry.Fragment)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ResourcesParsedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FaultsTotal.WithLabelValues("structural")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FaultsTotal.WithLabelValues("io")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DegradationsTotal.WithLabelValues("span.cost")))
}

func TestProcessMessageSchedulesPageRetryOnSaveFailure(t *testing.T) {
	f := newFixture()
	f.extractor.results["ok"] = extraction(1)
	f.repository.err = errors.New("database down")

	data, err := (&task.ResourcePageTask{PageNumber: 3, Fragments: []string{"ok"}}).TaskValue()
	require.NoError(t, err)

	err = f.service.processMessage(context.Background(), &redis.XMessage{
		ID: "5-0",
		Values: map[string]interface{}{
			"task_type": task.ResourcePageTaskType,
			"task_data": string(data),
		},
	})

	require.NoError(t, err)
	require.Len(t, f.queue.added, 1)
	retry, ok := f.queue.added[0].(*task.PageRetryTask)
	require.True(t, ok)
	assert.Equal(t, 3, retry.PageNumber)
	assert.Equal(t, []string{"test:ResourcePageTask/5-0"}, f.queue.acked)
}

func TestProcessMessageRejectsUnknownTask(t *testing.T) {
	f := newFixture()

	err := f.service.processMessage(context.Background(), &redis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"task_type": "Nope", "task_data": "{}"},
	})

	assert.Error(t, err)
	assert.Empty(t, f.queue.acked)
}

func TestRetryPage(t *testing.T) {
	t.Run("recovered page is enqueued for extraction", func(t *testing.T) {
		f := newFixture()
		f.client.page = &domain.ListPage{PageNumber: 4, TotalPages: 10, Fragments: []string{"a"}}

		require.NoError(t, f.service.retryPage(context.Background(), &task.PageRetryTask{PageNumber: 4}))

		require.Len(t, f.queue.added, 1)
		pageTask, ok := f.queue.added[0].(*task.ResourcePageTask)
		require.True(t, ok)
		assert.Equal(t, []string{"a"}, pageTask.Fragments)
	})

	t.Run("failure is re-queued with an incremented count", func(t *testing.T) {
		f := newFixture()
		f.client.err = errors.New("timeout")

		require.NoError(t, f.service.retryPage(context.Background(), &task.PageRetryTask{PageNumber: 4, RetryCount: 2}))

		require.Len(t, f.queue.added, 1)
		retry, ok := f.queue.added[0].(*task.PageRetryTask)
		require.True(t, ok)
		assert.Equal(t, 3, retry.RetryCount)
	})
}

func TestRetryResource(t *testing.T) {
	t.Run("success saves the record", func(t *testing.T) {
		f := newFixture()
		f.extractor.results["frag"] = extraction(9)

		f.service.retryResource(context.Background(), &task.ResourceRetryTask{Fragment: "frag"})

		require.Len(t, f.repository.saved, 1)
		assert.Equal(t, 9, f.repository.saved[0].ID)
		assert.Empty(t, f.queue.added)
	})

	t.Run("io fault is retried", func(t *testing.T) {
		f := newFixture()
		f.extractor.errs["frag"] = &parser.IOFault{URL: "u", Err: errors.New("reset")}

		f.service.retryResource(context.Background(), &task.ResourceRetryTask{Fragment: "frag"})

		require.Len(t, f.queue.added, 1)
		assert.Equal(t, 1, f.queue.added[0].(*task.ResourceRetryTask).RetryCount)
	})

	t.Run("structural fault is dropped", func(t *testing.T) {
		f := newFixture()

		f.service.retryResource(context.Background(), &task.ResourceRetryTask{Fragment: "broken"})

		assert.Empty(t, f.queue.added)
		assert.Empty(t, f.repository.saved)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		f := newFixture()
		f.extractor.results["frag"] = extraction(9)

		f.service.retryResource(context.Background(), &task.ResourceRetryTask{Fragment: "frag", RetryCount: 2})

		assert.Empty(t, f.repository.saved)
	})
}

func TestParseAll(t *testing.T) {
	f := newFixture()
	f.state.last = 2
	f.client.pages = []*domain.ListPage{
		{PageNumber: 1, TotalPages: 4},
		{PageNumber: 2, TotalPages: 4, Fragments: []string{"a"}},
		{PageNumber: 3, TotalPages: 4, Fragments: []string{"b"}},
		{PageNumber: 4, TotalPages: 4, Fragments: []string{"c"}},
	}

	require.NoError(t, f.service.ParseAll(context.Background()))

	require.Len(t, f.queue.added, 3)
	assert.Equal(t, 2, f.queue.added[0].(*task.ResourcePageTask).PageNumber)
	assert.Equal(t, []int{1, 4}, f.state.saved)
}

func TestConsumerNamesAreScopedToInstance(t *testing.T) {
	first := newFixture().service
	second := newFixture().service

	assert.NotEqual(t, first.consumerName("main", "worker-1"), second.consumerName("main", "worker-1"))
	assert.Equal(t, first.consumerName("retry", "autoclaimer"), first.consumerName("retry", "autoclaimer"))
	assert.Contains(t, first.consumerName("main", "worker-1"), "-main-worker-1")
}
