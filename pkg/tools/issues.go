package tools

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetIssue fetches one issue.
func (t *Tools) GetIssue(ctx context.Context, number int) (map[string]interface{}, error) {
	var issue map[string]interface{}
	if err := t.getJSON(ctx, fmt.Sprintf("%s/issues/%d", t.repoPath(), number), nil, &issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// IssueInput holds the optional fields for creating an issue.
type IssueInput struct {
	Labels    []string
	Assignees []string
	Milestone string
}

// CreateIssue opens a new issue. A milestone is referenced by title and
// resolved to its number first; an unknown title is ignored.
func (t *Tools) CreateIssue(ctx context.Context, title, body string, input IssueInput) (map[string]interface{}, error) {
	payload := map[string]interface{}{"title": title, "body": body}
	if len(input.Labels) > 0 {
		payload["labels"] = input.Labels
	}
	if len(input.Assignees) > 0 {
		payload["assignees"] = input.Assignees
	}
	if input.Milestone != "" {
		number, err := t.milestoneNumber(ctx, input.Milestone)
		if err != nil {
			return nil, err
		}
		if number > 0 {
			payload["milestone"] = number
		}
	}

	var issue map[string]interface{}
	if err := t.postJSON(ctx, t.repoPath()+"/issues", payload, &issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// IssueUpdate holds the fields UpdateIssue may change. Nil fields are left
// untouched.
type IssueUpdate struct {
	Title  *string
	Body   *string
	State  *string
	Labels []string
}

// UpdateIssue patches an issue.
func (t *Tools) UpdateIssue(ctx context.Context, number int, update IssueUpdate) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if update.Title != nil {
		payload["title"] = *update.Title
	}
	if update.Body != nil {
		payload["body"] = *update.Body
	}
	if update.State != nil {
		payload["state"] = *update.State
	}
	if update.Labels != nil {
		payload["labels"] = update.Labels
	}

	var issue map[string]interface{}
	if err := t.patchJSON(ctx, fmt.Sprintf("%s/issues/%d", t.repoPath(), number), payload, &issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// GetIssueComments lists all comments on an issue.
func (t *Tools) GetIssueComments(ctx context.Context, number int) ([]map[string]interface{}, error) {
	query := url.Values{"per_page": {strconv.Itoa(defaultPerPage)}}
	var comments []map[string]interface{}
	if err := t.getJSON(ctx, fmt.Sprintf("%s/issues/%d/comments", t.repoPath(), number), query, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// AddIssueComment posts a comment to an issue.
func (t *Tools) AddIssueComment(ctx context.Context, number int, body string) (map[string]interface{}, error) {
	var comment map[string]interface{}
	err := t.postJSON(ctx, fmt.Sprintf("%s/issues/%d/comments", t.repoPath(), number), map[string]string{"body": body}, &comment)
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// SearchIssues searches issues in the repository. A state of "all" skips
// the state qualifier.
func (t *Tools) SearchIssues(ctx context.Context, query, state string, labels []string) ([]map[string]interface{}, error) {
	q := query + " repo:" + t.RepoFullName()
	if state != "all" {
		if state == "" {
			state = "open"
		}
		q += " state:" + state
	}
	for _, label := range labels {
		q += fmt.Sprintf(" label:%q", label)
	}

	params := url.Values{"q": {q}, "per_page": {strconv.Itoa(defaultPerPage)}}
	var result struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := t.getJSON(ctx, "/search/issues", params, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// AddLabels adds labels to an issue and returns the full label set.
func (t *Tools) AddLabels(ctx context.Context, number int, labels []string) ([]map[string]interface{}, error) {
	var updated []map[string]interface{}
	err := t.postJSON(ctx, fmt.Sprintf("%s/issues/%d/labels", t.repoPath(), number), map[string][]string{"labels": labels}, &updated)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

var linkTexts = map[string]string{
	"relates_to":    "Related to",
	"blocks":        "Blocks",
	"is_blocked_by": "Blocked by",
	"duplicates":    "Duplicate of",
	"parent_of":     "Parent of",
	"child_of":      "Child of",
}

// LinkIssues records a relationship between two issues as a comment on the
// source issue.
func (t *Tools) LinkIssues(ctx context.Context, source, target int, linkType string) (map[string]interface{}, error) {
	text, ok := linkTexts[linkType]
	if !ok {
		text = "Related to"
	}
	return t.AddIssueComment(ctx, source, fmt.Sprintf("%s #%d", text, target))
}

// CreateMilestone creates a milestone.
func (t *Tools) CreateMilestone(ctx context.Context, title, description, dueOn string) (map[string]interface{}, error) {
	payload := map[string]interface{}{"title": title}
	if description != "" {
		payload["description"] = description
	}
	if dueOn != "" {
		payload["due_on"] = dueOn
	}

	var milestone map[string]interface{}
	if err := t.postJSON(ctx, t.repoPath()+"/milestones", payload, &milestone); err != nil {
		return nil, err
	}
	return milestone, nil
}

func (t *Tools) milestoneNumber(ctx context.Context, title string) (int, error) {
	var milestones []struct {
		Title  string `json:"title"`
		Number int    `json:"number"`
	}
	if err := t.getJSON(ctx, t.repoPath()+"/milestones", nil, &milestones); err != nil {
		return 0, err
	}
	for _, milestone := range milestones {
		if milestone.Title == title {
			return milestone.Number, nil
		}
	}
	return 0, nil
}
