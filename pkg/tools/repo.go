package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// FileContents is a repository file with its content decoded.
type FileContents struct {
	Path    string
	SHA     string
	Size    int64
	Content string
}

// GetFileContents fetches a file at ref (default branch when empty) and
// decodes its base64 content.
func (t *Tools) GetFileContents(ctx context.Context, path, ref string) (*FileContents, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}

	var raw struct {
		Path    string `json:"path"`
		SHA     string `json:"sha"`
		Size    int64  `json:"size"`
		Content string `json:"content"`
	}
	if err := t.getJSON(ctx, t.repoPath()+"/contents/"+path, query, &raw); err != nil {
		return nil, err
	}

	file := &FileContents{Path: raw.Path, SHA: raw.SHA, Size: raw.Size}
	if raw.Content != "" {
		// GitHub wraps base64 content at 60 columns.
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode %s content: %w", path, err)
		}
		file.Content = string(decoded)
	}
	return file, nil
}

// ListDirectory lists directory entries at ref.
func (t *Tools) ListDirectory(ctx context.Context, path, ref string) ([]map[string]interface{}, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}

	var entries []map[string]interface{}
	if err := t.getJSON(ctx, t.repoPath()+"/contents/"+path, query, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SearchCode searches code in the repository.
func (t *Tools) SearchCode(ctx context.Context, query string) ([]map[string]interface{}, error) {
	params := url.Values{
		"q":        {query + " repo:" + t.RepoFullName()},
		"per_page": {strconv.Itoa(defaultPerPage)},
	}
	var result struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := t.getJSON(ctx, "/search/code", params, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// CreateBranch creates branch name from the head of base (main when empty).
func (t *Tools) CreateBranch(ctx context.Context, name, base string) (map[string]interface{}, error) {
	if base == "" {
		base = "main"
	}

	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := t.getJSON(ctx, t.repoPath()+"/git/ref/heads/"+base, nil, &ref); err != nil {
		return nil, err
	}

	payload := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": ref.Object.SHA,
	}
	var created map[string]interface{}
	if err := t.postJSON(ctx, t.repoPath()+"/git/refs", payload, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// CreateFixBranch creates a fix/<issue>-<slug> branch for an issue.
func (t *Tools) CreateFixBranch(ctx context.Context, issueNumber int, description string) (map[string]interface{}, error) {
	slug := strings.ReplaceAll(strings.ToLower(description), " ", "-")
	if len(slug) > 30 {
		slug = slug[:30]
	}
	return t.CreateBranch(ctx, fmt.Sprintf("fix/%d-%s", issueNumber, slug), "")
}

// GetRecentCommits lists recent commits, optionally filtered by path and a
// start date (ISO 8601).
func (t *Tools) GetRecentCommits(ctx context.Context, path, since string) ([]map[string]interface{}, error) {
	query := url.Values{"per_page": {strconv.Itoa(defaultPerPage)}}
	if path != "" {
		query.Set("path", path)
	}
	if since != "" {
		query.Set("since", since)
	}

	var commits []map[string]interface{}
	if err := t.getJSON(ctx, t.repoPath()+"/commits", query, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}
