package repositories

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/alimgiray/repopulse/pkg/database"
	"github.com/alimgiray/repopulse/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "analytics.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.Init(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	return store
}

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func tsPtr(value string) *time.Time {
	t := ts(value)
	return &t
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func samplePullRequest(number int) *models.PullRequest {
	return &models.PullRequest{
		ID:            int64(1000 + number),
		Number:        number,
		Title:         "Add keyboard response plugin",
		Body:          strPtr("Implements the plugin"),
		State:         models.PRStateOpen,
		CreatedAt:     ts("2024-01-01T10:00:00Z"),
		UpdatedAt:     ts("2024-01-02T10:00:00Z"),
		UserLogin:     "octocat",
		UserType:      strPtr("User"),
		BaseBranch:    "main",
		HeadBranch:    "feature/keyboard",
		Additions:     intPtr(120),
		Deletions:     intPtr(7),
		Labels:        []string{"enhancement", "plugin"},
		Assignees:     []string{"hubot"},
		PRType:        models.PRTypeFeature,
		LastFetchedAt: ts("2024-01-03T00:00:00Z"),
	}
}

func TestPullRequestUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	pr := samplePullRequest(7)

	require.NoError(t, store.PullRequests.Upsert(pr))
	first, err := store.PullRequests.GetByNumber(7)
	require.NoError(t, err)

	require.NoError(t, store.PullRequests.Upsert(pr))
	second, err := store.PullRequests.GetByNumber(7)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	count, err := store.PullRequests.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, []string{"enhancement", "plugin"}, first.Labels)
	assert.Equal(t, 120, *first.Additions)
	assert.Nil(t, first.ChangedFiles)
	assert.Nil(t, first.MergedAt)
}

func TestPullRequestUpsertOverwritesAllFields(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PullRequests.Upsert(samplePullRequest(7)))

	updated := samplePullRequest(7)
	updated.Title = "Renamed"
	updated.Additions = nil
	updated.Labels = nil
	require.NoError(t, store.PullRequests.Upsert(updated))

	stored, err := store.PullRequests.GetByNumber(7)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)
	assert.Nil(t, stored.Additions)
	assert.Empty(t, stored.Labels)
}

func TestPullRequestMergedStateWins(t *testing.T) {
	store := newTestStore(t)
	pr := samplePullRequest(42)
	pr.State = models.PRStateOpen
	pr.MergedAt = tsPtr("2024-01-01T00:00:00Z")

	require.NoError(t, store.PullRequests.Upsert(pr))

	stored, err := store.PullRequests.GetByNumber(42)
	require.NoError(t, err)
	assert.Equal(t, models.PRStateMerged, stored.State)
	assert.Equal(t, ts("2024-01-01T00:00:00Z"), *stored.MergedAt)
}

func TestPullRequestQueries(t *testing.T) {
	store := newTestStore(t)

	missing, err := store.PullRequests.GetByNumber(404)
	assert.NoError(t, err)
	assert.Nil(t, missing)

	old := samplePullRequest(1)
	old.CreatedAt = ts("2023-01-01T00:00:00Z")
	merged := samplePullRequest(2)
	merged.MergedAt = tsPtr("2024-02-01T00:00:00Z")
	open := samplePullRequest(3)
	for _, pr := range []*models.PullRequest{old, merged, open} {
		require.NoError(t, store.PullRequests.Upsert(pr))
	}

	numbers, err := store.PullRequests.GetNumbers()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, numbers)

	recent, err := store.PullRequests.ListCreatedSince(tsPtr("2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	all, err := store.PullRequests.ListCreatedSince(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mergedList, err := store.PullRequests.ListMergedSince(nil)
	require.NoError(t, err)
	require.Len(t, mergedList, 1)
	assert.Equal(t, 2, mergedList[0].Number)

	openList, err := store.PullRequests.ListOpen()
	require.NoError(t, err)
	assert.Len(t, openList, 2)

	byState, err := store.PullRequests.CountByState()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"open": 2, "merged": 1}, byState)
}

func TestIssueUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	issue := &models.Issue{
		ID:            501,
		Number:        12,
		Title:         "How do I configure X?",
		State:         models.IssueStateClosed,
		CreatedAt:     ts("2024-03-01T00:00:00Z"),
		UpdatedAt:     ts("2024-03-02T00:00:00Z"),
		ClosedAt:      tsPtr("2024-03-02T00:00:00Z"),
		UserLogin:     "someone",
		AssigneeLogin: strPtr("maintainer"),
		Labels:        []string{},
		CommentsCount: 3,
		IssueType:     models.IssueTypeQuestion,
		Priority:      models.PriorityMedium,
		LastFetchedAt: ts("2024-03-03T00:00:00Z"),
	}

	require.NoError(t, store.Issues.Upsert(issue))
	first, err := store.Issues.GetByNumber(12)
	require.NoError(t, err)
	require.NoError(t, store.Issues.Upsert(issue))
	second, err := store.Issues.GetByNumber(12)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "maintainer", *first.AssigneeLogin)
	assert.Nil(t, first.Body)
}

func TestReviewRequiresStoredPullRequest(t *testing.T) {
	store := newTestStore(t)
	review := &models.Review{
		ID:            9001,
		PRNumber:      7,
		ReviewerLogin: "reviewer",
		State:         "APPROVED",
		SubmittedAt:   tsPtr("2024-01-02T12:00:00Z"),
		LastFetchedAt: ts("2024-01-03T00:00:00Z"),
	}

	assert.Error(t, store.Reviews.Upsert(review))

	require.NoError(t, store.PullRequests.Upsert(samplePullRequest(7)))
	require.NoError(t, store.Reviews.Upsert(review))
	require.NoError(t, store.Reviews.Upsert(review))

	reviews, err := store.Reviews.ListByPRNumber(7)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "APPROVED", reviews[0].State)

	// Replacing a PR row must not orphan its reviews
	require.NoError(t, store.PullRequests.Upsert(samplePullRequest(7)))
	count, err := store.Reviews.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommentSingleParent(t *testing.T) {
	store := newTestStore(t)
	base := models.Comment{
		UserLogin:     "octocat",
		CreatedAt:     ts("2024-01-01T00:00:00Z"),
		UpdatedAt:     ts("2024-01-01T00:00:00Z"),
		LastFetchedAt: ts("2024-01-02T00:00:00Z"),
	}

	prComment := base
	prComment.ID = 1
	prComment.SetParent(7, true)
	require.NoError(t, store.Comments.Upsert(&prComment))

	stored, err := store.Comments.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, models.CommentTypePR, stored.CommentType)
	assert.Equal(t, 7, *stored.PRNumber)
	assert.Nil(t, stored.IssueNumber)

	both := base
	both.ID = 2
	both.IssueNumber = intPtr(3)
	both.PRNumber = intPtr(3)
	both.CommentType = models.CommentTypeIssue
	assert.ErrorIs(t, store.Comments.Upsert(&both), models.ErrCommentParent)

	neither := base
	neither.ID = 3
	neither.CommentType = models.CommentTypeIssue
	assert.ErrorIs(t, store.Comments.Upsert(&neither), models.ErrCommentParent)

	count, err := store.Comments.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReleaseUpsertByTagName(t *testing.T) {
	store := newTestStore(t)
	release := &models.Release{
		ID:            77,
		TagName:       "v2.0.0",
		Name:          strPtr("v2.0 Breaking change"),
		CreatedAt:     ts("2024-05-01T00:00:00Z"),
		PublishedAt:   tsPtr("2024-05-01T01:00:00Z"),
		IsBreaking:    true,
		LastFetchedAt: ts("2024-05-02T00:00:00Z"),
	}
	require.NoError(t, store.Releases.Upsert(release))

	release.Prerelease = true
	require.NoError(t, store.Releases.Upsert(release))

	stored, err := store.Releases.GetByTagName("v2.0.0")
	require.NoError(t, err)
	assert.True(t, stored.Prerelease)
	assert.True(t, stored.IsBreaking)

	missing, err := store.Releases.GetByTagName("v0")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReleaseRetaggedReplacesStaleRow(t *testing.T) {
	store := newTestStore(t)
	release := &models.Release{
		ID:            1,
		TagName:       "v1.0",
		CreatedAt:     ts("2024-05-01T00:00:00Z"),
		LastFetchedAt: ts("2024-05-02T00:00:00Z"),
	}
	require.NoError(t, store.Releases.Upsert(release))

	retagged := *release
	retagged.TagName = "v1.0.0"
	require.NoError(t, store.Releases.Upsert(&retagged))
	require.NoError(t, store.Releases.Upsert(&retagged))

	stale, err := store.Releases.GetByTagName("v1.0")
	require.NoError(t, err)
	assert.Nil(t, stale)

	stored, err := store.Releases.GetByTagName("v1.0.0")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.ID)

	count, err := store.Releases.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertReplacesRowWithSameRemoteID(t *testing.T) {
	store := newTestStore(t)

	old := samplePullRequest(7)
	require.NoError(t, store.PullRequests.Upsert(old))
	require.NoError(t, store.Reviews.Upsert(&models.Review{
		ID:            9001,
		PRNumber:      7,
		ReviewerLogin: "reviewer",
		State:         "APPROVED",
		LastFetchedAt: ts("2024-01-03T00:00:00Z"),
	}))

	moved := samplePullRequest(8)
	moved.ID = old.ID
	require.NoError(t, store.PullRequests.Upsert(moved))

	gone, err := store.PullRequests.GetByNumber(7)
	require.NoError(t, err)
	assert.Nil(t, gone)
	numbers, err := store.PullRequests.GetNumbers()
	require.NoError(t, err)
	assert.Equal(t, []int{8}, numbers)
	reviews, err := store.Reviews.Count()
	require.NoError(t, err)
	assert.Zero(t, reviews)

	issue := &models.Issue{
		ID:            501,
		Number:        12,
		Title:         "Crash on start",
		State:         models.IssueStateOpen,
		CreatedAt:     ts("2024-03-01T00:00:00Z"),
		UpdatedAt:     ts("2024-03-01T00:00:00Z"),
		UserLogin:     "someone",
		IssueType:     models.IssueTypeBug,
		Priority:      models.PriorityMedium,
		LastFetchedAt: ts("2024-03-02T00:00:00Z"),
	}
	require.NoError(t, store.Issues.Upsert(issue))
	issue.Number = 13
	require.NoError(t, store.Issues.Upsert(issue))

	count, err := store.Issues.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	stored, err := store.Issues.GetByNumber(13)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(501), stored.ID)
}

func TestStoreStats(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PullRequests.Upsert(samplePullRequest(1)))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tables["pull_requests"])
	assert.Equal(t, 0, stats.Tables["issues"])
	require.NotNil(t, stats.PRDateRange)
	assert.Equal(t, ts("2024-01-01T10:00:00Z"), stats.PRDateRange.Earliest)
	assert.Nil(t, stats.IssueDateRange)
	assert.Equal(t, "1.0", stats.Metadata["database_version"])
}
