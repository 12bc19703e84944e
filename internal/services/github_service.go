package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingToken is returned when the fetcher is built without a bearer token.
	ErrMissingToken = errors.New("github token is required")
	// ErrUnexpectedShape is returned when a paginated collection stops being a list.
	ErrUnexpectedShape = errors.New("unexpected response shape")
)

// Query identifies one remote collection or object, relative to the API root.
type Query struct {
	Path   string
	Params url.Values
}

// NewQuery builds a Query from a path and alternating key/value pairs.
func NewQuery(path string, kv ...string) Query {
	params := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		params.Set(kv[i], kv[i+1])
	}
	return Query{Path: path, Params: params}
}

// URL renders the query for the given page; page 0 leaves pagination to the server.
func (q Query) URL(page int) string {
	params := url.Values{}
	for k, v := range q.Params {
		params[k] = append([]string(nil), v...)
	}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if len(params) == 0 {
		return q.Path
	}
	return q.Path + "?" + params.Encode()
}

func (q Query) String() string {
	return q.URL(0)
}

// FetchResult holds either every item of a list collection or a single object.
type FetchResult struct {
	Items  []json.RawMessage
	Object json.RawMessage
	Pages  int
}

// IsObject reports whether the endpoint answered with a single object.
func (r *FetchResult) IsObject() bool {
	return r.Object != nil
}

// PageVisitor receives one page of list items and returns false to stop paging.
type PageVisitor func(items []json.RawMessage) (bool, error)

// Fetcher is the remote side of a sync run.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (*FetchResult, error)
	FetchPages(ctx context.Context, q Query, visit PageVisitor) error
}

// GitHubService fetches raw JSON from the GitHub REST API, following the
// Link header through go-github's pagination fields. Each call is a single
// attempt; failures are returned to the caller.
type GitHubService struct {
	client *github.Client
	log    *logrus.Entry
}

// NewGitHubService creates a fetcher carrying token as a bearer credential.
// baseURL overrides the public API root (enterprise installs, tests).
func NewGitHubService(ctx context.Context, token, baseURL string, log *logrus.Entry) (*GitHubService, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse GitHub API URL %q: %w", baseURL, err)
		}
		client.BaseURL = u
	}

	return &GitHubService{client: client, log: log}, nil
}

// Fetch returns the whole collection behind q, or the single object it names.
func (s *GitHubService) Fetch(ctx context.Context, q Query) (*FetchResult, error) {
	result := &FetchResult{}

	page := 0
	for {
		raw, resp, err := s.get(ctx, q, page)
		if err != nil {
			return nil, err
		}
		result.Pages++

		if !isList(raw) {
			if result.Pages > 1 {
				return nil, fmt.Errorf("%s page %d: %w", q, page, ErrUnexpectedShape)
			}
			result.Object = raw
			return result, nil
		}

		items, err := decodeList(raw)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", q, page, err)
		}
		result.Items = append(result.Items, items...)

		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	s.log.WithFields(logrus.Fields{"query": q.String(), "items": len(result.Items), "pages": result.Pages}).Debug("Fetched collection")
	return result, nil
}

// FetchPages walks a list collection page by page. No further page is
// requested once visit returns false.
func (s *GitHubService) FetchPages(ctx context.Context, q Query, visit PageVisitor) error {
	page := 0
	for {
		raw, resp, err := s.get(ctx, q, page)
		if err != nil {
			return err
		}

		items := []json.RawMessage{raw}
		if isList(raw) {
			if items, err = decodeList(raw); err != nil {
				return fmt.Errorf("%s page %d: %w", q, page, err)
			}
		} else if page > 0 {
			return fmt.Errorf("%s page %d: %w", q, page, ErrUnexpectedShape)
		}

		more, err := visit(items)
		if err != nil {
			return err
		}
		if !more || !isList(raw) || resp.NextPage == 0 {
			return nil
		}
		page = resp.NextPage
	}
}

func (s *GitHubService) get(ctx context.Context, q Query, page int) (json.RawMessage, *github.Response, error) {
	req, err := s.client.NewRequest(http.MethodGet, q.URL(page), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request %s: %w", q, err)
	}

	var raw json.RawMessage
	resp, err := s.client.Do(ctx, req, &raw)
	if err != nil {
		return nil, resp, fmt.Errorf("GET %s: %w", q.URL(page), err)
	}
	return raw, resp, nil
}

// An empty body counts as an empty list.
func isList(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || trimmed[0] == '['
}

func decodeList(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return items, nil
}
