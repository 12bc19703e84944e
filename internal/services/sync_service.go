package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/alimgiray/repopulse/internal/repositories"
	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
)

type PullRequestStore interface {
	Upsert(pr *models.PullRequest) error
	GetByNumber(number int) (*models.PullRequest, error)
	GetNumbers() ([]int, error)
	Count() (int, error)
}

type IssueStore interface {
	Upsert(issue *models.Issue) error
	Count() (int, error)
}

type ReviewStore interface {
	Upsert(review *models.Review) error
}

type CommentStore interface {
	Upsert(comment *models.Comment) error
}

type ReleaseStore interface {
	Upsert(release *models.Release) error
}

type CheckpointStore interface {
	GetCheckpoint(kind models.CheckpointKind) (time.Time, error)
	AdvanceCheckpoint(kind models.CheckpointKind, now time.Time) (time.Time, error)
	SetInt(key string, value int) error
}

// SyncStores is the write side a sync run depends on.
type SyncStores struct {
	PullRequests PullRequestStore
	Issues       IssueStore
	Reviews      ReviewStore
	Comments     CommentStore
	Releases     ReleaseStore
	Checkpoints  CheckpointStore
}

// StoresFrom wires the SQLite repositories into SyncStores.
func StoresFrom(store *repositories.Store) SyncStores {
	return SyncStores{
		PullRequests: store.PullRequests,
		Issues:       store.Issues,
		Reviews:      store.Reviews,
		Comments:     store.Comments,
		Releases:     store.Releases,
		Checkpoints:  store.Metadata,
	}
}

// SyncOptions identifies the repository being synced.
type SyncOptions struct {
	Owner   string
	Repo    string
	PerPage int
}

// errSkipRecord drops a record without counting it as a failure.
var errSkipRecord = errors.New("skip record")

// SyncService runs full and incremental syncs. Calls are sequential: one
// remote request at a time, one upsert per record.
type SyncService struct {
	opts       SyncOptions
	fetcher    Fetcher
	stores     SyncStores
	normalizer *Normalizer
	log        *logrus.Entry
	now        func() time.Time
}

func NewSyncService(opts SyncOptions, fetcher Fetcher, stores SyncStores, log *logrus.Entry) *SyncService {
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	s := &SyncService{
		opts:    opts,
		fetcher: fetcher,
		stores:  stores,
		log:     log.WithField("repo", opts.Owner+"/"+opts.Repo),
	}
	return s.WithClock(time.Now)
}

// WithClock replaces the wall clock used for checkpoints and fetch stamps.
func (s *SyncService) WithClock(now func() time.Time) *SyncService {
	s.now = now
	s.normalizer = NewNormalizer(now)
	return s
}

// RunFullSync fetches every collection in full and advances the full-sync
// checkpoint. Phase and record failures are logged and counted; the only
// error returned is a cancelled context, in which case no checkpoint moves.
func (s *SyncService) RunFullSync(ctx context.Context) (*models.SyncResult, error) {
	res := models.NewSyncResult(models.SyncModeFull, s.now())
	log := s.log.WithFields(logrus.Fields{"run_id": res.RunID, "mode": res.Mode})
	log.Info("Starting full sync")

	res.PullRequests = s.syncPullRequests(ctx, log, res)
	res.Issues = s.syncIssues(ctx, log, res, nil)

	numbers := s.storedPRNumbers(log)
	res.Reviews = s.syncReviews(ctx, log, res, numbers)
	res.Comments = s.syncComments(ctx, log, res, nil)
	res.Releases = s.syncReleases(ctx, log, res)
	res.Stats = s.refreshStats(ctx, log, res, numbers)

	return s.finish(ctx, log, res, models.CheckpointFull)
}

// RunIncrementalSync fetches what changed after the later of the full and
// incremental checkpoints, then refreshes stats and reviews for the pull
// requests that changed.
func (s *SyncService) RunIncrementalSync(ctx context.Context) (*models.SyncResult, error) {
	res := models.NewSyncResult(models.SyncModeIncremental, s.now())
	log := s.log.WithFields(logrus.Fields{"run_id": res.RunID, "mode": res.Mode})

	cutoff := s.cutoff(log)
	res.Cutoff = &cutoff
	log.WithField("cutoff", cutoff.Format(time.RFC3339)).Info("Starting incremental sync")

	res.Touched, res.PullRequests = s.scanPullRequests(ctx, log, res, cutoff)
	res.Issues = s.syncIssues(ctx, log, res, &cutoff)
	res.Comments = s.syncComments(ctx, log, res, &cutoff)

	// Stats first: a touched PR whose list upsert failed is rebuilt from its
	// detail payload, which reviews then reference.
	res.Stats = s.refreshStats(ctx, log, res, res.Touched)
	res.Reviews = s.syncReviews(ctx, log, res, res.Touched)

	return s.finish(ctx, log, res, models.CheckpointIncremental)
}

// cutoff is the later of the incremental and full checkpoints.
func (s *SyncService) cutoff(log *logrus.Entry) time.Time {
	cutoff := models.CheckpointSentinel
	for _, kind := range []models.CheckpointKind{models.CheckpointIncremental, models.CheckpointFull} {
		t, err := s.stores.Checkpoints.GetCheckpoint(kind)
		if err != nil {
			log.WithError(err).WithField("checkpoint", kind.Key()).Warn("Failed to read checkpoint, using sentinel")
			continue
		}
		if t.After(cutoff) {
			cutoff = t
		}
	}
	return cutoff
}

func (s *SyncService) syncPullRequests(ctx context.Context, log *logrus.Entry, res *models.SyncResult) int {
	log = log.WithField("phase", models.KindPullRequests)

	items, ok := s.fetchList(ctx, log, s.sortedQuery("pulls"))
	if !ok {
		return 0
	}

	stored := ingest(log, res, models.KindPullRequests, items, s.storePullRequest)
	s.advance(log, models.CheckpointPR)
	s.track(log, models.MetaTotalPRsTracked, s.stores.PullRequests.Count)

	log.WithFields(logrus.Fields{"fetched": len(items), "stored": stored}).Info("Pull requests synced")
	return stored
}

// scanPullRequests walks the updated-desc PR feed and stops at the first
// record not updated strictly after cutoff. It returns the touched PR
// numbers and how many were stored.
func (s *SyncService) scanPullRequests(ctx context.Context, log *logrus.Entry, res *models.SyncResult, cutoff time.Time) ([]int, int) {
	log = log.WithField("phase", models.KindPullRequests)

	var (
		changed []*github.PullRequest
		touched []int
		pages   int
		stopped bool
	)
	err := s.fetcher.FetchPages(ctx, s.sortedQuery("pulls"), func(items []json.RawMessage) (bool, error) {
		pages++
		for _, raw := range items {
			var pr github.PullRequest
			if err := json.Unmarshal(raw, &pr); err != nil || pr.UpdatedAt == nil {
				res.MarkFailed(models.KindPullRequests)
				log.WithError(err).Warn("Skipping pull request without a readable updated_at")
				continue
			}
			if !pr.GetUpdatedAt().After(cutoff) {
				stopped = true
				return false, nil
			}
			changed = append(changed, &pr)
			touched = append(touched, pr.GetNumber())
		}
		return true, nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to fetch pull requests")
		return nil, 0
	}

	stored := 0
	for _, pr := range changed {
		if err := s.storePullRequest(pr); err != nil {
			res.MarkFailed(models.KindPullRequests)
			log.WithError(err).WithField("number", pr.GetNumber()).Warn("Failed to store pull request")
			continue
		}
		stored++
	}
	s.advance(log, models.CheckpointPR)
	s.track(log, models.MetaTotalPRsTracked, s.stores.PullRequests.Count)

	log.WithFields(logrus.Fields{
		"pages":   pages,
		"touched": len(touched),
		"stored":  stored,
		"stopped": stopped,
	}).Info("Pull requests scanned")
	return touched, stored
}

func (s *SyncService) storePullRequest(raw *github.PullRequest) error {
	pr, err := s.normalizer.PullRequest(raw)
	if err != nil {
		return err
	}
	return s.stores.PullRequests.Upsert(pr)
}

// syncIssues stores plain issues. With a cutoff the server-side since filter
// narrows the feed and records not updated strictly after cutoff are dropped.
func (s *SyncService) syncIssues(ctx context.Context, log *logrus.Entry, res *models.SyncResult, cutoff *time.Time) int {
	log = log.WithField("phase", models.KindIssues)

	q := s.sortedQuery("issues")
	if cutoff != nil {
		q.Params.Set("since", cutoff.UTC().Format(time.RFC3339))
	}
	items, ok := s.fetchList(ctx, log, q)
	if !ok {
		return 0
	}

	stored := ingest(log, res, models.KindIssues, items, func(raw *github.Issue) error {
		if cutoff != nil && !raw.GetUpdatedAt().After(*cutoff) {
			return errSkipRecord
		}
		issue, err := s.normalizer.Issue(raw)
		if errors.Is(err, ErrNotAnIssue) {
			return errSkipRecord
		}
		if err != nil {
			return err
		}
		return s.stores.Issues.Upsert(issue)
	})
	s.advance(log, models.CheckpointIssue)
	s.track(log, models.MetaTotalIssuesTracked, s.stores.Issues.Count)

	log.WithFields(logrus.Fields{"fetched": len(items), "stored": stored}).Info("Issues synced")
	return stored
}

func (s *SyncService) syncReviews(ctx context.Context, log *logrus.Entry, res *models.SyncResult, numbers []int) int {
	log = log.WithField("phase", models.KindReviews)

	stored := 0
	for _, number := range numbers {
		if ctx.Err() != nil {
			break
		}
		prLog := log.WithField("number", number)
		items, ok := s.fetchList(ctx, prLog, s.listQuery(fmt.Sprintf("pulls/%d/reviews", number)))
		if !ok {
			continue
		}
		stored += ingest(prLog, res, models.KindReviews, items, func(raw *github.PullRequestReview) error {
			review, err := s.normalizer.Review(number, raw)
			if err != nil {
				return err
			}
			return s.stores.Reviews.Upsert(review)
		})
	}

	log.WithFields(logrus.Fields{"pull_requests": len(numbers), "stored": stored}).Info("Reviews synced")
	return stored
}

func (s *SyncService) syncComments(ctx context.Context, log *logrus.Entry, res *models.SyncResult, cutoff *time.Time) int {
	log = log.WithField("phase", models.KindComments)

	q := s.sortedQuery("issues/comments")
	q.Params.Del("state")
	if cutoff != nil {
		q.Params.Set("since", cutoff.UTC().Format(time.RFC3339))
	}
	items, ok := s.fetchList(ctx, log, q)
	if !ok {
		return 0
	}

	knownPRs := make(map[int]bool)
	for _, n := range s.storedPRNumbers(log) {
		knownPRs[n] = true
	}

	stored := ingest(log, res, models.KindComments, items, func(raw *github.IssueComment) error {
		if cutoff != nil && !raw.GetUpdatedAt().After(*cutoff) {
			return errSkipRecord
		}
		comment, err := s.normalizer.Comment(raw, knownPRs)
		if err != nil {
			return err
		}
		return s.stores.Comments.Upsert(comment)
	})

	log.WithFields(logrus.Fields{"fetched": len(items), "stored": stored}).Info("Comments synced")
	return stored
}

func (s *SyncService) syncReleases(ctx context.Context, log *logrus.Entry, res *models.SyncResult) int {
	log = log.WithField("phase", models.KindReleases)

	items, ok := s.fetchList(ctx, log, s.listQuery("releases"))
	if !ok {
		return 0
	}

	stored := ingest(log, res, models.KindReleases, items, func(raw *github.RepositoryRelease) error {
		release, err := s.normalizer.Release(raw)
		if err != nil {
			return err
		}
		return s.stores.Releases.Upsert(release)
	})

	log.WithFields(logrus.Fields{"fetched": len(items), "stored": stored}).Info("Releases synced")
	return stored
}

// refreshStats reads each PR's detail payload and merges its additions,
// deletions, changed files and commit count into the stored record.
func (s *SyncService) refreshStats(ctx context.Context, log *logrus.Entry, res *models.SyncResult, numbers []int) int {
	log = log.WithField("phase", models.KindStats)

	refreshed := 0
	for _, number := range numbers {
		if ctx.Err() != nil {
			break
		}
		prLog := log.WithField("number", number)
		if err := s.refreshPullRequestStats(ctx, number); err != nil {
			res.MarkFailed(models.KindStats)
			prLog.WithError(err).Warn("Failed to refresh pull request stats")
			continue
		}
		refreshed++
	}

	log.WithFields(logrus.Fields{"pull_requests": len(numbers), "refreshed": refreshed}).Info("Pull request stats refreshed")
	return refreshed
}

func (s *SyncService) refreshPullRequestStats(ctx context.Context, number int) error {
	result, err := s.fetcher.Fetch(ctx, s.repoQuery(fmt.Sprintf("pulls/%d", number)))
	if err != nil {
		return err
	}
	if !result.IsObject() {
		return fmt.Errorf("pull request #%d detail: %w", number, ErrUnexpectedShape)
	}

	var detail github.PullRequest
	if err := json.Unmarshal(result.Object, &detail); err != nil {
		return fmt.Errorf("decode pull request #%d: %w", number, err)
	}

	existing, err := s.stores.PullRequests.GetByNumber(number)
	if err != nil {
		return err
	}
	merged, err := s.normalizer.MergeStats(existing, &detail)
	if err != nil {
		return err
	}
	return s.stores.PullRequests.Upsert(merged)
}

func (s *SyncService) finish(ctx context.Context, log *logrus.Entry, res *models.SyncResult, kind models.CheckpointKind) (*models.SyncResult, error) {
	if err := ctx.Err(); err != nil {
		log.WithError(err).Warn("Sync interrupted, checkpoint not advanced")
		return res, err
	}

	res.MarkCompleted(s.advance(log, kind))
	log.WithFields(logrus.Fields{
		"pull_requests": res.PullRequests,
		"issues":        res.Issues,
		"reviews":       res.Reviews,
		"comments":      res.Comments,
		"releases":      res.Releases,
		"stats":         res.Stats,
		"failed":        res.Failed,
	}).Info("Sync completed")
	return res, nil
}

// fetchList runs a list query; a failed fetch is logged and reported as no data.
func (s *SyncService) fetchList(ctx context.Context, log *logrus.Entry, q Query) ([]json.RawMessage, bool) {
	result, err := s.fetcher.Fetch(ctx, q)
	if err != nil {
		log.WithError(err).Error("Fetch failed, phase yields no data")
		return nil, false
	}
	if result.IsObject() {
		log.WithField("query", q.String()).Error("Expected a list, phase yields no data")
		return nil, false
	}
	return result.Items, true
}

func (s *SyncService) storedPRNumbers(log *logrus.Entry) []int {
	numbers, err := s.stores.PullRequests.GetNumbers()
	if err != nil {
		log.WithError(err).Error("Failed to read stored pull request numbers")
		return nil
	}
	return numbers
}

func (s *SyncService) advance(log *logrus.Entry, kind models.CheckpointKind) time.Time {
	now := s.now()
	at, err := s.stores.Checkpoints.AdvanceCheckpoint(kind, now)
	if err != nil {
		log.WithError(err).WithField("checkpoint", kind.Key()).Error("Failed to advance checkpoint")
		return now
	}
	return at
}

func (s *SyncService) track(log *logrus.Entry, key string, count func() (int, error)) {
	n, err := count()
	if err == nil {
		err = s.stores.Checkpoints.SetInt(key, n)
	}
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("Failed to update tracked total")
	}
}

func (s *SyncService) repoQuery(path string, kv ...string) Query {
	return NewQuery(fmt.Sprintf("repos/%s/%s/%s", s.opts.Owner, s.opts.Repo, path), kv...)
}

func (s *SyncService) listQuery(path string, kv ...string) Query {
	q := s.repoQuery(path, kv...)
	q.Params.Set("per_page", fmt.Sprint(s.opts.PerPage))
	return q
}

func (s *SyncService) sortedQuery(path string) Query {
	return s.listQuery(path, "state", "all", "sort", "updated", "direction", "desc")
}

// ingest decodes each raw record into T and hands it to store, returning
// how many were stored. Failures are logged and counted, never returned.
func ingest[T any](log *logrus.Entry, res *models.SyncResult, kind string, items []json.RawMessage, store func(*T) error) int {
	stored := 0
	for _, raw := range items {
		var record T
		if err := json.Unmarshal(raw, &record); err != nil {
			res.MarkFailed(kind)
			log.WithError(err).Warn("Skipping undecodable record")
			continue
		}
		if err := store(&record); err != nil {
			if errors.Is(err, errSkipRecord) {
				continue
			}
			res.MarkFailed(kind)
			log.WithError(err).Warn("Failed to store record")
			continue
		}
		stored++
	}
	return stored
}
