package services

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/alimgiray/repopulse/internal/repositories"
)

// Bot accounts whose activity does not count as a first response.
var ignoredResponders = []string{"changeset-bot"}

// MetricsService computes read-only repository health metrics from the store.
type MetricsService struct {
	store *repositories.Store
	now   func() time.Time
}

func NewMetricsService(store *repositories.Store) *MetricsService {
	return &MetricsService{store: store, now: time.Now}
}

// WithClock replaces the wall clock that anchors the window end.
func (s *MetricsService) WithClock(now func() time.Time) *MetricsService {
	s.now = now
	return s
}

// Window returns the window ending now and covering the last days days, or
// all time when days is nil.
func (s *MetricsService) Window(days *int) (models.MetricsWindow, error) {
	end := s.now().UTC()
	window := models.MetricsWindow{End: end}
	if days == nil {
		return window, nil
	}
	if *days <= 0 {
		return window, fmt.Errorf("days must be positive, got %d", *days)
	}
	d := *days
	start := end.AddDate(0, 0, -d)
	window.Days = &d
	window.Start = &start
	return window, nil
}

// snapshot is every stored record relevant to one window.
type snapshot struct {
	window   models.MetricsWindow
	prs      []*models.PullRequest
	issues   []*models.Issue
	comments []*models.Comment
	reviews  []*models.Review
	releases []*models.Release
	merged   []*models.PullRequest
}

func (s *MetricsService) load(days *int) (*snapshot, error) {
	window, err := s.Window(days)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{window: window}
	if snap.prs, err = s.store.PullRequests.ListCreatedSince(window.Start); err != nil {
		return nil, fmt.Errorf("load pull requests: %w", err)
	}
	if snap.issues, err = s.store.Issues.ListCreatedSince(window.Start); err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	if snap.comments, err = s.store.Comments.ListCreatedSince(window.Start); err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	if snap.reviews, err = s.store.Reviews.ListSubmittedSince(window.Start); err != nil {
		return nil, fmt.Errorf("load reviews: %w", err)
	}
	if snap.releases, err = s.store.Releases.ListCreatedSince(window.Start); err != nil {
		return nil, fmt.Errorf("load releases: %w", err)
	}
	if snap.merged, err = s.store.PullRequests.ListMergedSince(window.Start); err != nil {
		return nil, fmt.Errorf("load merged pull requests: %w", err)
	}
	return snap, nil
}

// BuildReport computes every metric group for the window.
func (s *MetricsService) BuildReport(days *int) (*models.MetricsReport, error) {
	snap, err := s.load(days)
	if err != nil {
		return nil, err
	}

	return &models.MetricsReport{
		Window:       snap.window,
		GeneratedAt:  snap.window.End,
		Overview:     overviewMetrics(snap),
		PullRequests: pullRequestMetrics(snap),
		Issues:       issueMetrics(snap),
		Trends:       trendMetrics(snap),
	}, nil
}

func (s *MetricsService) Overview(days *int) (*models.OverviewMetrics, error) {
	snap, err := s.load(days)
	if err != nil {
		return nil, err
	}
	m := overviewMetrics(snap)
	return &m, nil
}

func (s *MetricsService) PullRequests(days *int) (*models.PullRequestMetrics, error) {
	snap, err := s.load(days)
	if err != nil {
		return nil, err
	}
	m := pullRequestMetrics(snap)
	return &m, nil
}

func (s *MetricsService) Issues(days *int) (*models.IssueMetrics, error) {
	snap, err := s.load(days)
	if err != nil {
		return nil, err
	}
	m := issueMetrics(snap)
	return &m, nil
}

func (s *MetricsService) Trends(days *int) (*models.TrendMetrics, error) {
	snap, err := s.load(days)
	if err != nil {
		return nil, err
	}
	m := trendMetrics(snap)
	return &m, nil
}

func overviewMetrics(snap *snapshot) models.OverviewMetrics {
	var m models.OverviewMetrics

	contributors := make(map[string]bool)
	for _, pr := range snap.prs {
		contributors[pr.UserLogin] = true
		switch pr.State {
		case models.PRStateOpen:
			m.OpenPRs++
		case models.PRStateMerged:
			m.MergedPRs++
		}
	}
	for _, issue := range snap.issues {
		contributors[issue.UserLogin] = true
		switch issue.State {
		case models.IssueStateOpen:
			m.OpenIssues++
		case models.IssueStateClosed:
			m.ClosedIssues++
		}
	}
	for _, c := range snap.comments {
		contributors[c.UserLogin] = true
	}
	for _, r := range snap.reviews {
		contributors[r.ReviewerLogin] = true
	}
	delete(contributors, "")

	for _, pr := range snap.merged {
		m.ReleaseChurn += pr.Churn()
	}

	m.UniqueContributors = len(contributors)
	m.TotalEngagements = len(snap.prs) + len(snap.issues) + len(snap.comments) + len(snap.reviews)
	m.Throughput = m.ClosedIssues + m.MergedPRs
	m.Releases = len(snap.releases)
	return m
}

func pullRequestMetrics(snap *snapshot) models.PullRequestMetrics {
	m := models.PullRequestMetrics{
		Total:            len(snap.prs),
		MergeTimeHours:   []float64{},
		SizeDistribution: map[string]int{},
	}

	responses := firstResponses(snap, true)
	var responseHours []float64
	for _, pr := range snap.prs {
		switch pr.State {
		case models.PRStateOpen:
			m.OpenBacklog++
		case models.PRStateMerged:
			m.Merged++
			if hours := HoursBetween(&pr.CreatedAt, pr.MergedAt); hours != nil {
				m.MergeTimeHours = append(m.MergeTimeHours, *hours)
			}
		}
		if pr.Additions != nil || pr.Deletions != nil {
			m.SizeDistribution[SizeBucket(pr.Churn())]++
		}
		if first, ok := responses[responseKey{pr: true, number: pr.Number}]; ok {
			if hours := HoursBetween(&pr.CreatedAt, &first); hours != nil {
				responseHours = append(responseHours, *hours)
			}
		}
	}

	m.MedianMergeHours = median(m.MergeTimeHours)
	m.MedianFirstResponseHours = median(responseHours)
	m.MergeRate = percentage(m.Merged, m.Total)
	return m
}

func issueMetrics(snap *snapshot) models.IssueMetrics {
	m := models.IssueMetrics{
		Total:            len(snap.issues),
		Aging:            map[string]int{},
		TypeDistribution: map[string]int{},
	}

	responses := firstResponses(snap, false)
	var closeHours, responseHours []float64
	for _, issue := range snap.issues {
		switch issue.State {
		case models.IssueStateOpen:
			m.OpenBacklog++
			m.Aging[AgeBucket(snap.window.End.Sub(issue.CreatedAt))]++
			m.TypeDistribution[issue.IssueType]++
		case models.IssueStateClosed:
			m.Closed++
			if hours := HoursBetween(&issue.CreatedAt, issue.ClosedAt); hours != nil {
				closeHours = append(closeHours, *hours)
			}
		}
		if first, ok := responses[responseKey{number: issue.Number}]; ok {
			if hours := HoursBetween(&issue.CreatedAt, &first); hours != nil {
				responseHours = append(responseHours, *hours)
			}
		}
	}

	m.MedianCloseHours = median(closeHours)
	m.MedianFirstResponseHours = median(responseHours)
	m.CloseRate = percentage(m.Closed, m.Total)
	return m
}

type responseKey struct {
	pr     bool
	number int
}

// firstResponses maps each PR (or issue) in the window to its earliest
// comment or review by someone other than its author.
func firstResponses(snap *snapshot, pullRequests bool) map[responseKey]time.Time {
	authors := make(map[responseKey]string)
	if pullRequests {
		for _, pr := range snap.prs {
			authors[responseKey{pr: true, number: pr.Number}] = pr.UserLogin
		}
	} else {
		for _, issue := range snap.issues {
			authors[responseKey{number: issue.Number}] = issue.UserLogin
		}
	}

	first := make(map[responseKey]time.Time)
	observe := func(key responseKey, login string, at time.Time) {
		author, ok := authors[key]
		if !ok || login == author || slices.Contains(ignoredResponders, login) {
			return
		}
		if current, seen := first[key]; !seen || at.Before(current) {
			first[key] = at
		}
	}

	for _, c := range snap.comments {
		switch {
		case pullRequests && c.PRNumber != nil:
			observe(responseKey{pr: true, number: *c.PRNumber}, c.UserLogin, c.CreatedAt)
		case !pullRequests && c.IssueNumber != nil:
			observe(responseKey{number: *c.IssueNumber}, c.UserLogin, c.CreatedAt)
		}
	}
	if pullRequests {
		for _, r := range snap.reviews {
			if r.SubmittedAt != nil {
				observe(responseKey{pr: true, number: r.PRNumber}, r.ReviewerLogin, *r.SubmittedAt)
			}
		}
	}
	return first
}

func trendMetrics(snap *snapshot) models.TrendMetrics {
	return models.TrendMetrics{
		Backlog:         backlogTrend(snap),
		CodeChurn:       codeChurn(snap),
		ReleaseTimeline: releaseTimeline(snap),
	}
}

// backlogTrend counts PRs and issues opened and closed per day, with the
// running open total.
func backlogTrend(snap *snapshot) []models.BacklogPoint {
	const day = "2006-01-02"
	opened := make(map[string]int)
	closed := make(map[string]int)

	for _, pr := range snap.prs {
		opened[pr.CreatedAt.Format(day)]++
		if at := pullRequestClosedAt(pr); at != nil {
			closed[at.Format(day)]++
		}
	}
	for _, issue := range snap.issues {
		opened[issue.CreatedAt.Format(day)]++
		if issue.State == models.IssueStateClosed && issue.ClosedAt != nil {
			closed[issue.ClosedAt.Format(day)]++
		}
	}

	dates := make([]string, 0, len(opened)+len(closed))
	for d := range opened {
		dates = append(dates, d)
	}
	for d := range closed {
		if _, ok := opened[d]; !ok {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	points := make([]models.BacklogPoint, 0, len(dates))
	backlog := 0
	for _, d := range dates {
		backlog += opened[d] - closed[d]
		points = append(points, models.BacklogPoint{Date: d, Opened: opened[d], Closed: closed[d], Backlog: backlog})
	}
	return points
}

func pullRequestClosedAt(pr *models.PullRequest) *time.Time {
	switch {
	case pr.State == models.PRStateOpen:
		return nil
	case pr.MergedAt != nil:
		return pr.MergedAt
	case pr.ClosedAt != nil:
		return pr.ClosedAt
	}
	return &pr.UpdatedAt
}

// codeChurn sums additions and deletions of merged PRs per week, keyed by
// the Monday the week starts on.
func codeChurn(snap *snapshot) []models.ChurnPoint {
	byWeek := make(map[string]*models.ChurnPoint)
	for _, pr := range snap.merged {
		week := weekStart(*pr.MergedAt).Format("2006-01-02")
		point, ok := byWeek[week]
		if !ok {
			point = &models.ChurnPoint{Week: week}
			byWeek[week] = point
		}
		if pr.Additions != nil {
			point.Additions += *pr.Additions
		}
		if pr.Deletions != nil {
			point.Deletions += *pr.Deletions
		}
	}

	points := make([]models.ChurnPoint, 0, len(byWeek))
	for _, point := range byWeek {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Week < points[j].Week })
	return points
}

func weekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, time.UTC)
}

// releaseTimeline counts merged PRs landing between each release and the
// next one; the latest release runs to the window end.
func releaseTimeline(snap *snapshot) []models.ReleasePoint {
	releases := slices.Clone(snap.releases)
	sort.SliceStable(releases, func(i, j int) bool { return releases[i].CreatedAt.Before(releases[j].CreatedAt) })

	points := make([]models.ReleasePoint, 0, len(releases))
	for i, release := range releases {
		end := snap.window.End
		if i+1 < len(releases) {
			end = releases[i+1].CreatedAt
		}
		count := 0
		for _, pr := range snap.merged {
			if !pr.MergedAt.Before(release.CreatedAt) && pr.MergedAt.Before(end) {
				count++
			}
		}
		points = append(points, models.ReleasePoint{
			TagName:    release.TagName,
			CreatedAt:  release.CreatedAt,
			MergedPRs:  count,
			IsBreaking: release.IsBreaking,
		})
	}
	return points
}

// SizeBucket maps a PR's churn onto the XS..XL size buckets.
func SizeBucket(churn int) string {
	switch {
	case churn < 10:
		return models.SizeXS
	case churn < 100:
		return models.SizeS
	case churn < 500:
		return models.SizeM
	case churn < 1000:
		return models.SizeL
	}
	return models.SizeXL
}

// AgeBucket maps an open issue's age onto the aging buckets.
func AgeBucket(age time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case age < 7*day:
		return models.AgeUnderWeek
	case age < 30*day:
		return models.AgeUnderMonth
	case age < 90*day:
		return models.AgeUnderQuart
	}
	return models.AgeOlder
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
