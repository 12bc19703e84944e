package services

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/google/go-github/v57/github"
)

var (
	// ErrMalformedRecord marks a remote record missing fields the store requires.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrNotAnIssue marks an issue-feed record that is really a pull request.
	ErrNotAnIssue = errors.New("record is a pull request")
)

// Normalizer maps go-github payloads onto the stored models and applies
// classification at write time.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

func (n *Normalizer) fetchedAt() time.Time {
	return n.now().UTC().Truncate(time.Second)
}

// PullRequest normalizes a list or detail PR payload.
func (n *Normalizer) PullRequest(pr *github.PullRequest) (*models.PullRequest, error) {
	if pr.GetNumber() <= 0 || pr.CreatedAt == nil || pr.UpdatedAt == nil || pr.User == nil {
		return nil, fmt.Errorf("pull request #%d: %w", pr.GetNumber(), ErrMalformedRecord)
	}

	labels := labelNames(pr.Labels)
	normalized := &models.PullRequest{
		ID:               pr.GetID(),
		Number:           pr.GetNumber(),
		Title:            pr.GetTitle(),
		Body:             copyString(pr.Body),
		State:            pr.GetState(),
		CreatedAt:        pr.GetCreatedAt().UTC(),
		UpdatedAt:        pr.GetUpdatedAt().UTC(),
		ClosedAt:         timePtr(pr.ClosedAt),
		MergedAt:         timePtr(pr.MergedAt),
		UserLogin:        pr.GetUser().GetLogin(),
		UserType:         copyString(pr.GetUser().Type),
		BaseBranch:       pr.GetBase().GetRef(),
		HeadBranch:       pr.GetHead().GetRef(),
		Additions:        copyInt(pr.Additions),
		Deletions:        copyInt(pr.Deletions),
		ChangedFiles:     copyInt(pr.ChangedFiles),
		CommitsCount:     copyInt(pr.Commits),
		Labels:           labels,
		Assignees:        userLogins(pr.Assignees),
		Draft:            pr.GetDraft(),
		IsBreakingChange: IsBreakingChange(pr.GetTitle(), pr.GetBody(), labels),
		PRType:           ClassifyPRType(pr.GetTitle(), labels),
		LastFetchedAt:    n.fetchedAt(),
	}
	normalized.NormalizeState()
	return normalized, nil
}

// MergeStats folds the numeric fields of a PR detail payload into the stored
// record. Without a stored record the detail payload is normalized on its own.
// The existing record is never modified.
func (n *Normalizer) MergeStats(existing *models.PullRequest, detail *github.PullRequest) (*models.PullRequest, error) {
	if existing == nil {
		return n.PullRequest(detail)
	}

	merged := *existing
	merged.Labels = slices.Clone(existing.Labels)
	merged.Assignees = slices.Clone(existing.Assignees)
	if detail.Additions != nil {
		merged.Additions = copyInt(detail.Additions)
	}
	if detail.Deletions != nil {
		merged.Deletions = copyInt(detail.Deletions)
	}
	if detail.ChangedFiles != nil {
		merged.ChangedFiles = copyInt(detail.ChangedFiles)
	}
	if detail.Commits != nil {
		merged.CommitsCount = copyInt(detail.Commits)
	}
	merged.LastFetchedAt = n.fetchedAt()
	return &merged, nil
}

// Issue normalizes an issue payload. Pull requests surfaced by the issues
// feed yield ErrNotAnIssue.
func (n *Normalizer) Issue(issue *github.Issue) (*models.Issue, error) {
	if issue.IsPullRequest() {
		return nil, fmt.Errorf("issue #%d: %w", issue.GetNumber(), ErrNotAnIssue)
	}
	if issue.GetNumber() <= 0 || issue.CreatedAt == nil || issue.UpdatedAt == nil || issue.User == nil {
		return nil, fmt.Errorf("issue #%d: %w", issue.GetNumber(), ErrMalformedRecord)
	}

	labels := labelNames(issue.Labels)
	var assignee *string
	if issue.Assignee != nil {
		login := issue.Assignee.GetLogin()
		assignee = &login
	}

	return &models.Issue{
		ID:             issue.GetID(),
		Number:         issue.GetNumber(),
		Title:          issue.GetTitle(),
		Body:           copyString(issue.Body),
		State:          issue.GetState(),
		CreatedAt:      issue.GetCreatedAt().UTC(),
		UpdatedAt:      issue.GetUpdatedAt().UTC(),
		ClosedAt:       timePtr(issue.ClosedAt),
		UserLogin:      issue.GetUser().GetLogin(),
		UserType:       copyString(issue.GetUser().Type),
		AssigneeLogin:  assignee,
		Labels:         labels,
		CommentsCount:  issue.GetComments(),
		IssueType:      ClassifyIssueType(issue.GetTitle(), labels),
		Priority:       ClassifyPriority(labels),
		IsExternalUser: issue.GetUser().GetType() == "User",
		LastFetchedAt:  n.fetchedAt(),
	}, nil
}

// Review normalizes a review payload for the PR it was fetched under.
func (n *Normalizer) Review(prNumber int, review *github.PullRequestReview) (*models.Review, error) {
	if review.GetID() == 0 || review.User == nil {
		return nil, fmt.Errorf("review %d on #%d: %w", review.GetID(), prNumber, ErrMalformedRecord)
	}

	return &models.Review{
		ID:            review.GetID(),
		PRNumber:      prNumber,
		ReviewerLogin: review.GetUser().GetLogin(),
		State:         review.GetState(),
		SubmittedAt:   timePtr(review.SubmittedAt),
		Body:          copyString(review.Body),
		CommitSHA:     copyString(review.CommitID),
		LastFetchedAt: n.fetchedAt(),
	}, nil
}

// Comment normalizes a repository-wide issue comment. knownPRs holds the PR
// numbers already stored; when it is non-empty it decides the parent type,
// otherwise the comment URLs do.
func (n *Normalizer) Comment(comment *github.IssueComment, knownPRs map[int]bool) (*models.Comment, error) {
	if comment.GetID() == 0 || comment.CreatedAt == nil || comment.UpdatedAt == nil || comment.User == nil {
		return nil, fmt.Errorf("comment %d: %w", comment.GetID(), ErrMalformedRecord)
	}

	number, err := ParentNumber(comment.GetIssueURL())
	if err != nil {
		return nil, fmt.Errorf("comment %d: %w", comment.GetID(), err)
	}

	normalized := &models.Comment{
		ID:            comment.GetID(),
		UserLogin:     comment.GetUser().GetLogin(),
		Body:          copyString(comment.Body),
		CreatedAt:     comment.GetCreatedAt().UTC(),
		UpdatedAt:     comment.GetUpdatedAt().UTC(),
		LastFetchedAt: n.fetchedAt(),
	}
	normalized.SetParent(number, IsPRComment(number, comment.GetIssueURL(), comment.GetHTMLURL(), knownPRs))
	return normalized, nil
}

// Release normalizes a release payload.
func (n *Normalizer) Release(release *github.RepositoryRelease) (*models.Release, error) {
	if release.GetTagName() == "" || release.CreatedAt == nil {
		return nil, fmt.Errorf("release %d: %w", release.GetID(), ErrMalformedRecord)
	}

	var author *string
	if release.Author != nil {
		login := release.Author.GetLogin()
		author = &login
	}

	return &models.Release{
		ID:            release.GetID(),
		TagName:       release.GetTagName(),
		Name:          copyString(release.Name),
		Body:          copyString(release.Body),
		CreatedAt:     release.GetCreatedAt().UTC(),
		PublishedAt:   timePtr(release.PublishedAt),
		Draft:         release.GetDraft(),
		Prerelease:    release.GetPrerelease(),
		AuthorLogin:   author,
		IsBreaking:    IsBreakingRelease(release.GetName(), release.GetBody()),
		LastFetchedAt: n.fetchedAt(),
	}, nil
}

// IsPRComment decides whether a comment's parent is a pull request. Stored
// PR numbers are authoritative once any exist; before the first PR sync the
// URL shape is used instead.
func IsPRComment(number int, issueURL, htmlURL string, knownPRs map[int]bool) bool {
	if len(knownPRs) > 0 {
		return knownPRs[number]
	}
	return urlHasPullSegment(issueURL) || urlHasPullSegment(htmlURL)
}

// ParentNumber reads the parent number from the last path segment of an issue URL.
func ParentNumber(issueURL string) (int, error) {
	u, err := url.Parse(issueURL)
	if err != nil || u.Path == "" {
		return 0, fmt.Errorf("parent url %q: %w", issueURL, ErrMalformedRecord)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	number, err := strconv.Atoi(segments[len(segments)-1])
	if err != nil || number <= 0 {
		return 0, fmt.Errorf("parent url %q: %w", issueURL, ErrMalformedRecord)
	}
	return number, nil
}

func urlHasPullSegment(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if segment == "pull" || segment == "pulls" {
			return true
		}
	}
	return false
}

// HoursBetween returns the elapsed hours from start to end, or nil when either is missing.
func HoursBetween(start, end *time.Time) *float64 {
	if start == nil || end == nil {
		return nil
	}
	hours := end.Sub(*start).Hours()
	return &hours
}

func labelNames(labels []*github.Label) []string {
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		if label.GetName() != "" {
			names = append(names, label.GetName())
		}
	}
	return names
}

func userLogins(users []*github.User) []string {
	logins := make([]string, 0, len(users))
	for _, user := range users {
		if user.GetLogin() != "" {
			logins = append(logins, user.GetLogin())
		}
	}
	return logins
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
