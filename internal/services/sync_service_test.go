package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/alimgiray/repopulse/internal/repositories"
	"github.com/alimgiray/repopulse/pkg/database"
	"github.com/alimgiray/repopulse/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pullsPath    = "repos/o/r/pulls"
	issuesPath   = "repos/o/r/issues"
	commentsPath = "repos/o/r/issues/comments"
	releasesPath = "repos/o/r/releases"
)

// fakeFetcher serves canned pages keyed by query path and records every
// page it hands out as "path#page".
type fakeFetcher struct {
	lists    map[string][][]json.RawMessage
	objects  map[string]json.RawMessage
	failures map[string]error
	queries  []Query
	requests []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		lists:    make(map[string][][]json.RawMessage),
		objects:  make(map[string]json.RawMessage),
		failures: make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, q Query) (*FetchResult, error) {
	f.queries = append(f.queries, q)
	if err := f.failures[q.Path]; err != nil {
		return nil, err
	}
	if obj, ok := f.objects[q.Path]; ok {
		f.requests = append(f.requests, q.Path+"#1")
		return &FetchResult{Object: obj, Pages: 1}, nil
	}

	result := &FetchResult{}
	for i, page := range f.pages(q.Path) {
		f.requests = append(f.requests, fmt.Sprintf("%s#%d", q.Path, i+1))
		result.Items = append(result.Items, page...)
		result.Pages++
	}
	return result, nil
}

func (f *fakeFetcher) FetchPages(ctx context.Context, q Query, visit PageVisitor) error {
	f.queries = append(f.queries, q)
	if err := f.failures[q.Path]; err != nil {
		return err
	}
	for i, page := range f.pages(q.Path) {
		f.requests = append(f.requests, fmt.Sprintf("%s#%d", q.Path, i+1))
		more, err := visit(page)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (f *fakeFetcher) pages(path string) [][]json.RawMessage {
	if pages, ok := f.lists[path]; ok {
		return pages
	}
	return [][]json.RawMessage{nil}
}

func (f *fakeFetcher) query(path string) (Query, bool) {
	for _, q := range f.queries {
		if q.Path == path {
			return q, true
		}
	}
	return Query{}, false
}

func rawJSON(t *testing.T, v map[string]interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func prPayload(t *testing.T, number int, updatedAt string, extra map[string]interface{}) json.RawMessage {
	payload := map[string]interface{}{
		"id":         9000 + number,
		"number":     number,
		"title":      fmt.Sprintf("Add plugin %d", number),
		"state":      "open",
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": updatedAt,
		"user":       map[string]interface{}{"login": "octocat", "type": "User"},
		"base":       map[string]interface{}{"ref": "main"},
		"head":       map[string]interface{}{"ref": fmt.Sprintf("feature/%d", number)},
		"labels":     []interface{}{},
	}
	for k, v := range extra {
		payload[k] = v
	}
	return rawJSON(t, payload)
}

func issuePayload(t *testing.T, number int, updatedAt string, extra map[string]interface{}) json.RawMessage {
	payload := map[string]interface{}{
		"id":         7000 + number,
		"number":     number,
		"title":      "How do I configure X?",
		"state":      "open",
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": updatedAt,
		"user":       map[string]interface{}{"login": "visitor", "type": "User"},
		"labels":     []interface{}{},
	}
	for k, v := range extra {
		payload[k] = v
	}
	return rawJSON(t, payload)
}

func commentPayload(t *testing.T, id, parent int, updatedAt string) json.RawMessage {
	return rawJSON(t, map[string]interface{}{
		"id":         id,
		"body":       "Thanks!",
		"created_at": updatedAt,
		"updated_at": updatedAt,
		"user":       map[string]interface{}{"login": "reviewer"},
		"issue_url":  fmt.Sprintf("https://api.github.com/repos/o/r/issues/%d", parent),
		"html_url":   fmt.Sprintf("https://github.com/o/r/issues/%d#issuecomment-%d", parent, id),
	})
}

func detailPayload(t *testing.T, number, additions, deletions int) json.RawMessage {
	return prPayload(t, number, "2024-06-02T00:00:00Z", map[string]interface{}{
		"title":         "Detail title",
		"additions":     additions,
		"deletions":     deletions,
		"changed_files": 3,
		"commits":       2,
	})
}

func newServiceStore(t *testing.T) *repositories.Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "analytics.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := repositories.NewStore(db)
	require.NoError(t, store.Init(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	return store
}

func newTestSyncService(fetcher Fetcher, store *repositories.Store) *SyncService {
	opts := SyncOptions{Owner: "o", Repo: "r", PerPage: 100}
	return NewSyncService(opts, fetcher, StoresFrom(store), logger.Discard()).WithClock(fixedClock)
}

func checkpoint(t *testing.T, store *repositories.Store, kind models.CheckpointKind) time.Time {
	t.Helper()
	at, err := store.Metadata.GetCheckpoint(kind)
	require.NoError(t, err)
	return at
}

func TestFullSyncWithEmptyRepository(t *testing.T) {
	store := newServiceStore(t)
	svc := newTestSyncService(newFakeFetcher(), store)

	res, err := svc.RunFullSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Total())
	assert.Empty(t, res.Failed)
	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointFull))
	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointPR))
	assert.Equal(t, models.CheckpointSentinel, checkpoint(t, store, models.CheckpointIncremental))

	count, err := store.PullRequests.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFullSyncStoresEveryCollection(t *testing.T) {
	store := newServiceStore(t)
	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{{
		prPayload(t, 43, "2024-06-03T00:00:00Z", nil),
		prPayload(t, 42, "2024-01-01T00:00:00Z", map[string]interface{}{
			"title":     "Fix timeline crash",
			"merged_at": "2024-01-01T00:00:00Z",
		}),
	}}
	fetcher.lists[issuesPath] = [][]json.RawMessage{{
		issuePayload(t, 10, "2024-02-01T00:00:00Z", nil),
		issuePayload(t, 43, "2024-06-03T00:00:00Z", map[string]interface{}{
			"pull_request": map[string]interface{}{"url": "https://api.github.com/repos/o/r/pulls/43"},
		}),
	}}
	fetcher.lists[pullsPath+"/42/reviews"] = [][]json.RawMessage{{
		rawJSON(t, map[string]interface{}{
			"id": 31, "state": "APPROVED", "submitted_at": "2024-01-01T00:00:00Z",
			"user": map[string]interface{}{"login": "maintainer"},
		}),
	}}
	fetcher.lists[commentsPath] = [][]json.RawMessage{{
		commentPayload(t, 501, 42, "2024-01-01T00:00:00Z"),
		commentPayload(t, 502, 10, "2024-02-01T00:00:00Z"),
	}}
	fetcher.lists[releasesPath] = [][]json.RawMessage{{
		rawJSON(t, map[string]interface{}{
			"id": 8, "tag_name": "v2.0.0", "name": "v2.0 Breaking change",
			"created_at": "2024-05-01T00:00:00Z", "published_at": "2024-05-01T00:00:00Z",
		}),
	}}
	fetcher.objects[pullsPath+"/42"] = detailPayload(t, 42, 10, 2)
	fetcher.objects[pullsPath+"/43"] = detailPayload(t, 43, 5, 5)

	svc := newTestSyncService(fetcher, store)
	res, err := svc.RunFullSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.PullRequests)
	assert.Equal(t, 1, res.Issues)
	assert.Equal(t, 1, res.Reviews)
	assert.Equal(t, 2, res.Comments)
	assert.Equal(t, 1, res.Releases)
	assert.Equal(t, 2, res.Stats)
	assert.Empty(t, res.Failed)

	merged, err := store.PullRequests.GetByNumber(42)
	require.NoError(t, err)
	assert.Equal(t, models.PRStateMerged, merged.State)
	assert.Equal(t, "Fix timeline crash", merged.Title)
	assert.Equal(t, 10, *merged.Additions)
	assert.Equal(t, 2, *merged.CommitsCount)

	issue, err := store.Issues.GetByNumber(43)
	require.NoError(t, err)
	assert.Nil(t, issue)

	onPR, err := store.Comments.GetByID(501)
	require.NoError(t, err)
	assert.Equal(t, models.CommentTypePR, onPR.CommentType)
	onIssue, err := store.Comments.GetByID(502)
	require.NoError(t, err)
	assert.Equal(t, models.CommentTypeIssue, onIssue.CommentType)

	release, err := store.Releases.GetByTagName("v2.0.0")
	require.NoError(t, err)
	assert.True(t, release.IsBreaking)

	tracked, _, err := store.Metadata.Get(models.MetaTotalPRsTracked)
	require.NoError(t, err)
	assert.Equal(t, "2", tracked)
	tracked, _, err = store.Metadata.Get(models.MetaTotalIssuesTracked)
	require.NoError(t, err)
	assert.Equal(t, "1", tracked)

	assert.Contains(t, fetcher.requests, pullsPath+"/43/reviews#1")
	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointFull))
	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointIssue))

	q, ok := fetcher.query(pullsPath)
	require.True(t, ok)
	assert.Equal(t, "all", q.Params.Get("state"))
	assert.Equal(t, "updated", q.Params.Get("sort"))
	assert.Equal(t, "desc", q.Params.Get("direction"))
	assert.Equal(t, "100", q.Params.Get("per_page"))
}

func TestFullSyncTwiceIsIdempotent(t *testing.T) {
	store := newServiceStore(t)
	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{{prPayload(t, 42, "2024-01-01T00:00:00Z", nil)}}
	fetcher.lists[issuesPath] = [][]json.RawMessage{{issuePayload(t, 10, "2024-02-01T00:00:00Z", nil)}}
	fetcher.objects[pullsPath+"/42"] = detailPayload(t, 42, 10, 2)

	svc := newTestSyncService(fetcher, store)
	_, err := svc.RunFullSync(context.Background())
	require.NoError(t, err)
	first, err := store.PullRequests.GetByNumber(42)
	require.NoError(t, err)

	_, err = svc.RunFullSync(context.Background())
	require.NoError(t, err)
	second, err := store.PullRequests.GetByNumber(42)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	count, err := store.Issues.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIncrementalSyncStopsAtCutoff(t *testing.T) {
	store := newServiceStore(t)
	require.NoError(t, store.Metadata.Set(models.CheckpointIncremental.Key(), "2024-06-01T00:00:00"))

	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{
		{
			prPayload(t, 2, "2024-06-02T00:00:00Z", nil),
			prPayload(t, 1, "2024-05-30T00:00:00Z", nil),
		},
		{prPayload(t, 0, "2024-05-01T00:00:00Z", nil)},
	}
	fetcher.objects[pullsPath+"/2"] = detailPayload(t, 2, 40, 4)

	svc := newTestSyncService(fetcher, store)
	res, err := svc.RunIncrementalSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2}, res.Touched)
	assert.Equal(t, 1, res.PullRequests)
	assert.Equal(t, 1, res.Stats)
	require.NotNil(t, res.Cutoff)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *res.Cutoff)

	numbers, err := store.PullRequests.GetNumbers()
	require.NoError(t, err)
	assert.Equal(t, []int{2}, numbers)

	assert.NotContains(t, fetcher.requests, pullsPath+"#2")
	assert.NotContains(t, fetcher.requests, pullsPath+"/1#1")
	assert.Contains(t, fetcher.requests, pullsPath+"/2/reviews#1")

	pr, err := store.PullRequests.GetByNumber(2)
	require.NoError(t, err)
	assert.Equal(t, 40, *pr.Additions)

	issues, ok := fetcher.query(issuesPath)
	require.True(t, ok)
	assert.Equal(t, "2024-06-01T00:00:00Z", issues.Params.Get("since"))

	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointIncremental))
}

func TestIncrementalSyncExcludesRecordsAtCutoff(t *testing.T) {
	store := newServiceStore(t)
	require.NoError(t, store.Metadata.Set(models.CheckpointIncremental.Key(), "2024-06-01T00:00:00.000000Z"))

	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{{prPayload(t, 5, "2024-06-01T00:00:00Z", nil)}}
	fetcher.lists[issuesPath] = [][]json.RawMessage{{
		issuePayload(t, 11, "2024-06-01T00:00:01Z", nil),
		issuePayload(t, 12, "2024-06-01T00:00:00Z", nil),
	}}
	fetcher.lists[commentsPath] = [][]json.RawMessage{{
		commentPayload(t, 601, 11, "2024-06-01T00:00:00Z"),
		commentPayload(t, 602, 11, "2024-06-02T00:00:00Z"),
	}}

	svc := newTestSyncService(fetcher, store)
	res, err := svc.RunIncrementalSync(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Touched)
	assert.Zero(t, res.PullRequests)
	assert.Equal(t, 1, res.Issues)
	assert.Equal(t, 1, res.Comments)
	assert.Empty(t, res.Failed)

	issue, err := store.Issues.GetByNumber(12)
	require.NoError(t, err)
	assert.Nil(t, issue)
	comment, err := store.Comments.GetByID(601)
	require.NoError(t, err)
	assert.Nil(t, comment)
}

func TestIncrementalSyncUsesLaterCheckpoint(t *testing.T) {
	store := newServiceStore(t)
	require.NoError(t, store.Metadata.Set(models.CheckpointIncremental.Key(), "2024-03-01T00:00:00.000000Z"))
	require.NoError(t, store.Metadata.Set(models.CheckpointFull.Key(), "2024-06-15T00:00:00.000000Z"))

	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{{prPayload(t, 3, "2024-06-10T00:00:00Z", nil)}}

	svc := newTestSyncService(fetcher, store)
	res, err := svc.RunIncrementalSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), *res.Cutoff)
	assert.Empty(t, res.Touched)
}

func TestIncrementalSyncWithUnreadableCheckpoints(t *testing.T) {
	store := newServiceStore(t)
	require.NoError(t, store.Metadata.Set(models.CheckpointIncremental.Key(), "not a time"))
	require.NoError(t, store.Metadata.Set(models.CheckpointFull.Key(), ""))

	svc := newTestSyncService(newFakeFetcher(), store)
	res, err := svc.RunIncrementalSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.CheckpointSentinel, *res.Cutoff)
	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointIncremental))
}

func TestIncrementalSyncClassifiesCommentsOnStoredPullRequests(t *testing.T) {
	store := newServiceStore(t)
	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{{prPayload(t, 42, "2024-06-02T00:00:00Z", nil)}}
	fetcher.lists[commentsPath] = [][]json.RawMessage{{commentPayload(t, 701, 42, "2024-06-02T00:00:00Z")}}
	fetcher.objects[pullsPath+"/42"] = detailPayload(t, 42, 1, 1)

	svc := newTestSyncService(fetcher, store)
	_, err := svc.RunIncrementalSync(context.Background())
	require.NoError(t, err)

	comment, err := store.Comments.GetByID(701)
	require.NoError(t, err)
	assert.Equal(t, models.CommentTypePR, comment.CommentType)
	assert.Equal(t, 42, *comment.PRNumber)
	assert.Nil(t, comment.IssueNumber)
}

func TestFailedPhaseYieldsNoData(t *testing.T) {
	store := newServiceStore(t)
	fetcher := newFakeFetcher()
	fetcher.failures[pullsPath] = errors.New("GET repos/o/r/pulls: 502 Bad Gateway")
	fetcher.lists[issuesPath] = [][]json.RawMessage{{issuePayload(t, 10, "2024-02-01T00:00:00Z", nil)}}

	svc := newTestSyncService(fetcher, store)
	res, err := svc.RunFullSync(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.PullRequests)
	assert.Equal(t, 1, res.Issues)
	assert.Equal(t, models.CheckpointSentinel, checkpoint(t, store, models.CheckpointPR))
	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointIssue))
	assert.Equal(t, fixedNow, checkpoint(t, store, models.CheckpointFull))
}

func TestMalformedRecordsAreCountedAndSkipped(t *testing.T) {
	store := newServiceStore(t)
	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{{
		prPayload(t, 42, "2024-01-01T00:00:00Z", nil),
		rawJSON(t, map[string]interface{}{"number": 43, "updated_at": "2024-01-01T00:00:00Z"}),
		json.RawMessage(`"not an object"`),
	}}

	svc := newTestSyncService(fetcher, store)
	res, err := svc.RunFullSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.PullRequests)
	assert.Equal(t, 2, res.Failed[models.KindPullRequests])
}

func TestRefreshStatsMergesIntoStoredRecord(t *testing.T) {
	store := newServiceStore(t)
	fetcher := newFakeFetcher()
	fetcher.lists[pullsPath] = [][]json.RawMessage{{
		prPayload(t, 42, "2024-01-01T00:00:00Z", map[string]interface{}{
			"labels": []interface{}{map[string]interface{}{"name": "bug"}},
		}),
	}}
	fetcher.objects[pullsPath+"/42"] = detailPayload(t, 42, 100, 20)
	fetcher.objects[pullsPath+"/99"] = detailPayload(t, 99, 7, 0)

	svc := newTestSyncService(fetcher, store)
	_, err := svc.RunFullSync(context.Background())
	require.NoError(t, err)

	pr, err := store.PullRequests.GetByNumber(42)
	require.NoError(t, err)
	assert.Equal(t, "Add plugin 42", pr.Title)
	assert.Equal(t, []string{"bug"}, pr.Labels)
	assert.Equal(t, 120, pr.Churn())

	// A touched number with no stored record is built from its detail payload
	res := models.NewSyncResult(models.SyncModeIncremental, fixedNow)
	refreshed := svc.refreshStats(context.Background(), logger.Discard(), res, []int{99, 100})
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 1, res.Failed[models.KindStats])

	created, err := store.PullRequests.GetByNumber(99)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, 7, *created.Additions)
}

func TestCancelledSyncDoesNotAdvanceCheckpoint(t *testing.T) {
	store := newServiceStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newTestSyncService(newFakeFetcher(), store)

	_, err := svc.RunFullSync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.CheckpointSentinel, checkpoint(t, store, models.CheckpointFull))

	_, err = svc.RunIncrementalSync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.CheckpointSentinel, checkpoint(t, store, models.CheckpointIncremental))
}
