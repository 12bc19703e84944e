package services

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/alimgiray/repopulse/internal/models"
)

// vocabulary maps a category to the label names and title keywords that select it.
type vocabulary struct {
	category string
	words    []string
}

var prTypeVocabulary = []vocabulary{
	{models.PRTypeBugfix, []string{"bug", "bugfix", "fix", "patch", "hotfix"}},
	{models.PRTypeFeature, []string{"feature", "enhancement", "new-feature", "add", "implement", "new"}},
	{models.PRTypeDocs, []string{"documentation", "docs", "doc", "readme"}},
	{models.PRTypeMaintenance, []string{"maintenance", "refactor", "cleanup", "update"}},
}

var issueTypeVocabulary = []vocabulary{
	{models.IssueTypeBug, []string{"bug", "error", "broken", "issue", "problem"}},
	{models.IssueTypeFeature, []string{"feature", "enhancement", "feature-request", "request", "add", "implement"}},
	{models.IssueTypeQuestion, []string{"question", "help", "support", "how", "?"}},
	{models.IssueTypeDocumentation, []string{"documentation", "docs", "doc", "readme"}},
}

var priorityVocabulary = []vocabulary{
	{models.PriorityCritical, []string{"critical", "urgent", "high-priority"}},
	{models.PriorityHigh, []string{"high", "important"}},
	{models.PriorityMedium, []string{"medium", "normal"}},
	{models.PriorityLow, []string{"low", "minor"}},
}

var breakingLabels = []string{"breaking", "breaking-change", "major"}

var breakingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`breaking\s*change`),
	regexp.MustCompile(`breaking\s*api`),
	regexp.MustCompile(`backwards?\s*incompatible`),
	regexp.MustCompile(`major\s*version`),
	regexp.MustCompile(`removed?\s+deprecated`),
	regexp.MustCompile(`api\s*change`),
}

var issueReferencePattern = regexp.MustCompile(`(?i)(?:fix(?:es)?|close(?:s)?|resolve(?:s)?|reference(?:s)?)\s*#(\d+)`)

// ClassifyPRType picks a PR type from labels first, then title keywords.
func ClassifyPRType(title string, labels []string) string {
	return classify(prTypeVocabulary, title, labels, models.PRTypeFeature)
}

// ClassifyIssueType picks an issue type from labels first, then title keywords.
func ClassifyIssueType(title string, labels []string) string {
	return classify(issueTypeVocabulary, title, labels, models.IssueTypeQuestion)
}

// ClassifyPriority derives priority from labels only.
func ClassifyPriority(labels []string) string {
	return classify(priorityVocabulary, "", labels, models.PriorityMedium)
}

// IsBreakingChange reports a breaking label or a breaking phrase in title or body.
func IsBreakingChange(title, body string, labels []string) bool {
	lowered := lowerAll(labels)
	for _, label := range breakingLabels {
		if slices.Contains(lowered, label) {
			return true
		}
	}

	text := strings.ToLower(title + " " + body)
	for _, pattern := range breakingPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// IsBreakingRelease reports whether a release name or body mentions "breaking".
func IsBreakingRelease(name, body string) bool {
	return strings.Contains(strings.ToLower(name+" "+body), "breaking")
}

// ExtractIssueReferences returns the issue numbers a text closes or references,
// in order of first appearance.
func ExtractIssueReferences(text string) []int {
	var numbers []int
	seen := make(map[int]bool)
	for _, match := range issueReferencePattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		numbers = append(numbers, n)
	}
	return numbers
}

func classify(vocab []vocabulary, title string, labels []string, fallback string) string {
	lowered := lowerAll(labels)
	for _, v := range vocab {
		for _, word := range v.words {
			if slices.Contains(lowered, word) {
				return v.category
			}
		}
	}

	if title != "" {
		lowerTitle := strings.ToLower(title)
		for _, v := range vocab {
			for _, word := range v.words {
				if strings.Contains(lowerTitle, word) {
					return v.category
				}
			}
		}
	}
	return fallback
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
