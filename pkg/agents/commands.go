package agents

import (
	"context"
	"fmt"

	"sdlcsquad/pkg/tools"
)

// NewToolsRegistry builds the registry of repository operations backed by
// the REST gateway.
func NewToolsRegistry(gateway *tools.Tools) *Registry {
	r := NewRegistry()

	register := func(cmd Command) {
		_ = r.Register(cmd)
	}

	register(Command{
		Name:        "get_issue",
		Description: "Get details of a GitHub issue",
		Required:    []string{"issue_number"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "issue_number")
			if err != nil {
				return nil, err
			}
			return gateway.GetIssue(ctx, number)
		},
	})
	register(Command{
		Name:        "create_issue",
		Description: "Create a new issue",
		Required:    []string{"title", "body"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return gateway.CreateIssue(ctx, stringArg(input, "title"), stringArg(input, "body"), tools.IssueInput{
				Labels:    stringSliceArg(input, "labels"),
				Assignees: stringSliceArg(input, "assignees"),
				Milestone: stringArg(input, "milestone"),
			})
		},
	})
	register(Command{
		Name:        "update_issue",
		Description: "Update issue title, body, state, or labels",
		Required:    []string{"issue_number"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "issue_number")
			if err != nil {
				return nil, err
			}
			update := tools.IssueUpdate{}
			if value, ok := input["title"].(string); ok {
				update.Title = &value
			}
			if value, ok := input["body"].(string); ok {
				update.Body = &value
			}
			if value, ok := input["state"].(string); ok {
				update.State = &value
			}
			if labels := stringSliceArg(input, "labels"); labels != nil {
				update.Labels = labels
			}
			return gateway.UpdateIssue(ctx, number, update)
		},
	})
	register(Command{
		Name:        "get_issue_comments",
		Description: "Get all comments on an issue",
		Required:    []string{"issue_number"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "issue_number")
			if err != nil {
				return nil, err
			}
			return gateway.GetIssueComments(ctx, number)
		},
	})
	register(Command{
		Name:        "add_issue_comment",
		Description: "Add a markdown comment to an issue",
		Required:    []string{"issue_number", "body"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "issue_number")
			if err != nil {
				return nil, err
			}
			return gateway.AddIssueComment(ctx, number, stringArg(input, "body"))
		},
	})
	register(Command{
		Name:        "search_issues",
		Description: "Search issues in the repository",
		Required:    []string{"query"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			state := stringArg(input, "state")
			if state == "" {
				state = "all"
			}
			return gateway.SearchIssues(ctx, stringArg(input, "query"), state, stringSliceArg(input, "labels"))
		},
	})
	register(Command{
		Name:        "add_labels",
		Description: "Add labels to an issue",
		Required:    []string{"issue_number", "labels"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "issue_number")
			if err != nil {
				return nil, err
			}
			return gateway.AddLabels(ctx, number, stringSliceArg(input, "labels"))
		},
	})
	register(Command{
		Name:        "link_issues",
		Description: "Link two related issues",
		Required:    []string{"source_issue", "target_issue", "link_type"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			source, err := intArg(input, "source_issue")
			if err != nil {
				return nil, err
			}
			target, err := intArg(input, "target_issue")
			if err != nil {
				return nil, err
			}
			return gateway.LinkIssues(ctx, source, target, stringArg(input, "link_type"))
		},
	})
	register(Command{
		Name:        "create_milestone",
		Description: "Create a milestone",
		Required:    []string{"title"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return gateway.CreateMilestone(ctx, stringArg(input, "title"), stringArg(input, "description"), stringArg(input, "due_on"))
		},
	})

	register(Command{
		Name:        "get_pull_request",
		Description: "Get details of a pull request",
		Required:    []string{"pr_number"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			return gateway.GetPullRequest(ctx, number)
		},
	})
	register(Command{
		Name:        "create_pull_request",
		Description: "Open a pull request (draft by default)",
		Required:    []string{"title", "body", "head_branch"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			draft := true
			if value, ok := input["draft"].(bool); ok {
				draft = value
			}
			return gateway.CreatePullRequest(ctx, stringArg(input, "title"), stringArg(input, "body"),
				stringArg(input, "head_branch"), stringArg(input, "base_branch"), draft)
		},
	})
	register(Command{
		Name:        "get_pr_files",
		Description: "List files changed in a pull request",
		Required:    []string{"pr_number"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			return gateway.GetPRFiles(ctx, number)
		},
	})
	register(Command{
		Name:        "get_pr_diff",
		Description: "Get the unified diff of a pull request",
		Required:    []string{"pr_number"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			return gateway.GetPRDiff(ctx, number)
		},
	})
	register(Command{
		Name:        "add_pr_comment",
		Description: "Comment on a pull request, optionally anchored to a line",
		Required:    []string{"pr_number", "body"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			line := 0
			if _, ok := input["line"]; ok {
				if line, err = intArg(input, "line"); err != nil {
					return nil, err
				}
			}
			return gateway.AddPRComment(ctx, number, stringArg(input, "body"), stringArg(input, "path"), line)
		},
	})
	register(Command{
		Name:        "add_pr_review",
		Description: "Submit a review (APPROVE, REQUEST_CHANGES, COMMENT)",
		Required:    []string{"pr_number", "body", "event"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			return gateway.AddPRReview(ctx, number, stringArg(input, "body"), stringArg(input, "event"), reviewCommentsArg(input))
		},
	})
	register(Command{
		Name:        "suggest_code_change",
		Description: "Post a code suggestion block on a pull request",
		Required:    []string{"pr_number", "path", "start_line", "suggestion", "comment"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			start, err := intArg(input, "start_line")
			if err != nil {
				return nil, err
			}
			end := 0
			if _, ok := input["end_line"]; ok {
				if end, err = intArg(input, "end_line"); err != nil {
					return nil, err
				}
			}
			return gateway.SuggestCodeChange(ctx, number, stringArg(input, "path"), start, end,
				stringArg(input, "suggestion"), stringArg(input, "comment"))
		},
	})
	register(Command{
		Name:        "get_check_runs",
		Description: "Get CI check runs for a pull request head",
		Required:    []string{"pr_number"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			return gateway.GetCheckRuns(ctx, number)
		},
	})
	register(Command{
		Name:        "create_test_checklist",
		Description: "Post a QA test checklist comment on a pull request",
		Required:    []string{"pr_number", "test_cases"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "pr_number")
			if err != nil {
				return nil, err
			}
			return gateway.CreateTestChecklist(ctx, number, testCasesArg(input))
		},
	})

	register(Command{
		Name:        "get_file_contents",
		Description: "Read a repository file",
		Required:    []string{"path"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return gateway.GetFileContents(ctx, stringArg(input, "path"), stringArg(input, "ref"))
		},
	})
	register(Command{
		Name:        "list_directory",
		Description: "List a repository directory",
		Required:    []string{"path"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return gateway.ListDirectory(ctx, stringArg(input, "path"), stringArg(input, "ref"))
		},
	})
	register(Command{
		Name:        "search_code",
		Description: "Search code in the repository",
		Required:    []string{"query"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return gateway.SearchCode(ctx, stringArg(input, "query"))
		},
	})
	register(Command{
		Name:        "create_branch",
		Description: "Create a branch from a base branch",
		Required:    []string{"branch_name"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return gateway.CreateBranch(ctx, stringArg(input, "branch_name"), stringArg(input, "base_branch"))
		},
	})
	register(Command{
		Name:        "create_fix_branch",
		Description: "Create a fix/<issue>-<slug> branch for an issue",
		Required:    []string{"issue_number", "description"},
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			number, err := intArg(input, "issue_number")
			if err != nil {
				return nil, err
			}
			return gateway.CreateFixBranch(ctx, number, stringArg(input, "description"))
		},
	})
	register(Command{
		Name:        "get_recent_commits",
		Description: "List recent commits, optionally by path and start date",
		Run: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return gateway.GetRecentCommits(ctx, stringArg(input, "path"), stringArg(input, "since"))
		},
	})

	return r
}

// intArg coerces a JSON-decoded number or int into an int.
func intArg(input map[string]interface{}, key string) (int, error) {
	switch value := input[key].(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	default:
		return 0, fmt.Errorf("input %q must be a number", key)
	}
}

func stringArg(input map[string]interface{}, key string) string {
	value, _ := input[key].(string)
	return value
}

func stringSliceArg(input map[string]interface{}, key string) []string {
	switch value := input[key].(type) {
	case []string:
		return value
	case []interface{}:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func reviewCommentsArg(input map[string]interface{}) []tools.ReviewComment {
	raw, ok := input["comments"].([]interface{})
	if !ok {
		return nil
	}
	comments := make([]tools.ReviewComment, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		line, _ := intArg(entry, "line")
		comments = append(comments, tools.ReviewComment{
			Path: stringArg(entry, "path"),
			Line: line,
			Body: stringArg(entry, "body"),
		})
	}
	return comments
}

func testCasesArg(input map[string]interface{}) []tools.TestCase {
	raw, ok := input["test_cases"].([]interface{})
	if !ok {
		return nil
	}
	cases := make([]tools.TestCase, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		cases = append(cases, tools.TestCase{
			Description:    stringArg(entry, "description"),
			Steps:          stringSliceArg(entry, "steps"),
			ExpectedResult: stringArg(entry, "expected_result"),
		})
	}
	return cases
}
