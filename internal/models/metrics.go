package models

import (
	"time"
)

// Size buckets for PR churn (additions + deletions)
const (
	SizeXS = "XS"
	SizeS  = "S"
	SizeM  = "M"
	SizeL  = "L"
	SizeXL = "XL"
)

// Aging buckets for open issues
const (
	AgeUnderWeek  = "<7d"
	AgeUnderMonth = "7-30d"
	AgeUnderQuart = "30-90d"
	AgeOlder      = ">90d"
)

// MetricsWindow describes the period a report covers. Days is nil for all time.
type MetricsWindow struct {
	Days  *int       `json:"days"`
	Start *time.Time `json:"start"`
	End   time.Time  `json:"end"`
}

// Contains reports whether t falls inside the window
func (w MetricsWindow) Contains(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	return !t.After(w.End)
}

type OverviewMetrics struct {
	OpenPRs            int `json:"open_prs"`
	OpenIssues         int `json:"open_issues"`
	UniqueContributors int `json:"unique_contributors"`
	TotalEngagements   int `json:"total_engagements"`
	ClosedIssues       int `json:"closed_issues"`
	MergedPRs          int `json:"merged_prs"`
	Throughput         int `json:"throughput"`
	Releases           int `json:"releases"`
	ReleaseChurn       int `json:"release_churn"`
}

type PullRequestMetrics struct {
	Total                    int            `json:"total"`
	Merged                   int            `json:"merged"`
	MedianMergeHours         *float64       `json:"median_merge_hours"`
	MedianFirstResponseHours *float64       `json:"median_first_response_hours"`
	MergeRate                float64        `json:"merge_rate"`
	OpenBacklog              int            `json:"open_backlog"`
	MergeTimeHours           []float64      `json:"merge_time_hours"`
	SizeDistribution         map[string]int `json:"size_distribution"`
}

type IssueMetrics struct {
	Total                    int            `json:"total"`
	Closed                   int            `json:"closed"`
	MedianCloseHours         *float64       `json:"median_close_hours"`
	MedianFirstResponseHours *float64       `json:"median_first_response_hours"`
	CloseRate                float64        `json:"close_rate"`
	OpenBacklog              int            `json:"open_backlog"`
	Aging                    map[string]int `json:"aging"`
	TypeDistribution         map[string]int `json:"type_distribution"`
}

type BacklogPoint struct {
	Date    string `json:"date"`
	Opened  int    `json:"opened"`
	Closed  int    `json:"closed"`
	Backlog int    `json:"backlog"`
}

type ChurnPoint struct {
	Week      string `json:"week"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type ReleasePoint struct {
	TagName    string    `json:"tag_name"`
	CreatedAt  time.Time `json:"created_at"`
	MergedPRs  int       `json:"merged_prs"`
	IsBreaking bool      `json:"is_breaking"`
}

type TrendMetrics struct {
	Backlog         []BacklogPoint `json:"backlog"`
	CodeChurn       []ChurnPoint   `json:"code_churn"`
	ReleaseTimeline []ReleasePoint `json:"release_timeline"`
}

// MetricsReport bundles every metric for one window
type MetricsReport struct {
	Window       MetricsWindow      `json:"window"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Overview     OverviewMetrics    `json:"overview"`
	PullRequests PullRequestMetrics `json:"pull_requests"`
	Issues       IssueMetrics       `json:"issues"`
	Trends       TrendMetrics       `json:"trends"`
}

type DateRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// DatabaseStats summarizes what the store currently holds
type DatabaseStats struct {
	Tables         map[string]int    `json:"tables"`
	PRDateRange    *DateRange        `json:"pr_date_range"`
	IssueDateRange *DateRange        `json:"issue_date_range"`
	PRsByState     map[string]int    `json:"prs_by_state"`
	IssuesByState  map[string]int    `json:"issues_by_state"`
	Metadata       map[string]string `json:"metadata"`
}
