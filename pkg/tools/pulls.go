package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// GetPullRequest fetches one pull request.
func (t *Tools) GetPullRequest(ctx context.Context, number int) (map[string]interface{}, error) {
	var pr map[string]interface{}
	if err := t.getJSON(ctx, fmt.Sprintf("%s/pulls/%d", t.repoPath(), number), nil, &pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// CreatePullRequest opens a pull request from head into base. An empty base
// defaults to main; drafts are the default so agents never open a
// ready-for-review PR unreviewed.
func (t *Tools) CreatePullRequest(ctx context.Context, title, body, head, base string, draft bool) (map[string]interface{}, error) {
	if base == "" {
		base = "main"
	}
	payload := map[string]interface{}{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
		"draft": draft,
	}

	var pr map[string]interface{}
	if err := t.postJSON(ctx, t.repoPath()+"/pulls", payload, &pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// GetPRFiles lists the files changed in a pull request.
func (t *Tools) GetPRFiles(ctx context.Context, number int) ([]map[string]interface{}, error) {
	query := url.Values{"per_page": {strconv.Itoa(defaultPerPage)}}
	var files []map[string]interface{}
	if err := t.getJSON(ctx, fmt.Sprintf("%s/pulls/%d/files", t.repoPath(), number), query, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// GetPRDiff returns the unified diff of a pull request.
func (t *Tools) GetPRDiff(ctx context.Context, number int) (string, error) {
	body, err := t.do(ctx, http.MethodGet, fmt.Sprintf("%s/pulls/%d", t.repoPath(), number), nil, nil, "application/vnd.github.v3.diff")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// AddPRComment posts a comment to a pull request. With a path and line it
// becomes a review comment anchored to the head commit; otherwise it is a
// plain conversation comment.
func (t *Tools) AddPRComment(ctx context.Context, number int, body, path string, line int) (map[string]interface{}, error) {
	if path == "" || line <= 0 {
		return t.AddIssueComment(ctx, number, body)
	}

	pr, err := t.GetPullRequest(ctx, number)
	if err != nil {
		return nil, err
	}
	sha, err := headSHA(pr)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"body":      body,
		"path":      path,
		"line":      line,
		"commit_id": sha,
	}
	var comment map[string]interface{}
	if err := t.postJSON(ctx, fmt.Sprintf("%s/pulls/%d/comments", t.repoPath(), number), payload, &comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// ReviewComment is a line-anchored comment attached to a review.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// AddPRReview submits a review. Event is APPROVE, REQUEST_CHANGES, or
// COMMENT.
func (t *Tools) AddPRReview(ctx context.Context, number int, body, event string, comments []ReviewComment) (map[string]interface{}, error) {
	payload := map[string]interface{}{"body": body, "event": event}
	if len(comments) > 0 {
		payload["comments"] = comments
	}

	var review map[string]interface{}
	if err := t.postJSON(ctx, fmt.Sprintf("%s/pulls/%d/reviews", t.repoPath(), number), payload, &review); err != nil {
		return nil, err
	}
	return review, nil
}

// SuggestCodeChange posts a GitHub suggestion block on the given lines.
func (t *Tools) SuggestCodeChange(ctx context.Context, number int, path string, startLine, endLine int, suggestion, comment string) (map[string]interface{}, error) {
	body := fmt.Sprintf("%s\n\n```suggestion\n%s\n```", comment, suggestion)

	pr, err := t.GetPullRequest(ctx, number)
	if err != nil {
		return nil, err
	}
	sha, err := headSHA(pr)
	if err != nil {
		return nil, err
	}

	line := endLine
	if line == 0 {
		line = startLine
	}
	payload := map[string]interface{}{
		"body":      body,
		"path":      path,
		"line":      line,
		"commit_id": sha,
	}
	if endLine != 0 && endLine != startLine {
		payload["start_line"] = startLine
	}

	var created map[string]interface{}
	if err := t.postJSON(ctx, fmt.Sprintf("%s/pulls/%d/comments", t.repoPath(), number), payload, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// GetCheckRuns lists CI check runs for the head commit of a pull request.
func (t *Tools) GetCheckRuns(ctx context.Context, number int) ([]map[string]interface{}, error) {
	pr, err := t.GetPullRequest(ctx, number)
	if err != nil {
		return nil, err
	}
	sha, err := headSHA(pr)
	if err != nil {
		return nil, err
	}

	var result struct {
		CheckRuns []map[string]interface{} `json:"check_runs"`
	}
	if err := t.getJSON(ctx, fmt.Sprintf("%s/commits/%s/check-runs", t.repoPath(), sha), nil, &result); err != nil {
		return nil, err
	}
	return result.CheckRuns, nil
}

// TestCase describes one entry of a QA checklist comment.
type TestCase struct {
	Description    string
	Steps          []string
	ExpectedResult string
}

// CreateTestChecklist renders test cases as a markdown checklist comment on
// a pull request.
func (t *Tools) CreateTestChecklist(ctx context.Context, number int, cases []TestCase) (map[string]interface{}, error) {
	var b strings.Builder
	b.WriteString("## QA Test Checklist\n\n")
	for i, tc := range cases {
		description := tc.Description
		if description == "" {
			description = "Untitled"
		}
		fmt.Fprintf(&b, "### Test Case %d: %s\n", i+1, description)
		if len(tc.Steps) > 0 {
			b.WriteString("\n**Steps:**\n")
			for _, step := range tc.Steps {
				fmt.Fprintf(&b, "1. %s\n", step)
			}
		}
		if tc.ExpectedResult != "" {
			fmt.Fprintf(&b, "\n**Expected:** %s\n", tc.ExpectedResult)
		}
		b.WriteString("\n- [ ] Pass\n- [ ] Fail\n\n")
	}
	return t.AddPRComment(ctx, number, b.String(), "", 0)
}

func headSHA(pr map[string]interface{}) (string, error) {
	head, _ := pr["head"].(map[string]interface{})
	sha, _ := head["sha"].(string)
	if sha == "" {
		return "", fmt.Errorf("pull request head sha missing")
	}
	return sha, nil
}
