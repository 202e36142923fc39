package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"sdlcsquad/internal"
	"sdlcsquad/pkg/githubapp"
	"sdlcsquad/pkg/webhook"

	ghhook "github.com/go-playground/webhooks/v6/github"
	gh "github.com/google/go-github/v57/github"
)

// storiesLabel marks an issue whose requirements are clarified and ready to
// be broken into user stories.
const storiesLabel = "ready-for-stories"

// commentTriggers are the mention prefixes that summon the squad from an
// issue or PR comment.
var commentTriggers = []string{"@sdlc-agent", "@sdlc-bot", "/sdlc"}

// registerHandlers wires the synchronous side of each SDLC event: filtering,
// logging, and the intake acknowledgment. Agent work happens out-of-band via
// the routing rules.
func registerHandlers(d *webhook.Dispatcher, app *githubapp.App, cfg internal.GitHubConfig, logger *log.Logger) {
	d.OnAction(string(ghhook.IssuesEvent), "opened", func(ctx context.Context, del *webhook.Delivery) (interface{}, error) {
		var payload ghhook.IssuesPayload
		if err := json.Unmarshal(del.Raw, &payload); err != nil {
			return nil, fmt.Errorf("decode issues payload: %w", err)
		}
		logger.Printf("issue #%d opened: %s", payload.Issue.Number, payload.Issue.Title)

		client, err := app.SDKClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("github client: %w", err)
		}
		comment := &gh.IssueComment{
			Body: gh.String("Thanks for the report. The SDLC squad is reviewing this issue and will follow up with clarifying questions or user stories."),
		}
		if _, _, err := client.Issues.CreateComment(ctx, cfg.Owner, cfg.Repo, int(payload.Issue.Number), comment); err != nil {
			return nil, fmt.Errorf("ack comment: %w", err)
		}
		return "acknowledged", nil
	})

	d.OnAction(string(ghhook.IssuesEvent), "labeled", func(ctx context.Context, del *webhook.Delivery) (interface{}, error) {
		label, _ := del.Payload["label"].(map[string]interface{})
		name, _ := label["name"].(string)
		if name != storiesLabel {
			return "ignored", nil
		}
		issue := del.Issue()
		logger.Printf("issue #%v labeled %s, stories requested", issue["number"], storiesLabel)
		return "stories-requested", nil
	})

	d.OnAction(string(ghhook.PullRequestEvent), "opened", func(ctx context.Context, del *webhook.Delivery) (interface{}, error) {
		var payload ghhook.PullRequestPayload
		if err := json.Unmarshal(del.Raw, &payload); err != nil {
			return nil, fmt.Errorf("decode pull_request payload: %w", err)
		}
		logger.Printf("pull request #%d opened: %s", payload.Number, payload.PullRequest.Title)
		return "review-requested", nil
	})

	d.OnAction(string(ghhook.PullRequestEvent), "synchronize", func(ctx context.Context, del *webhook.Delivery) (interface{}, error) {
		pr := del.PullRequest()
		head, _ := pr["head"].(map[string]interface{})
		logger.Printf("pull request #%v updated, head=%v", pr["number"], head["sha"])
		return "noted", nil
	})

	d.OnAction(string(ghhook.IssueCommentEvent), "created", func(ctx context.Context, del *webhook.Delivery) (interface{}, error) {
		var payload ghhook.IssueCommentPayload
		if err := json.Unmarshal(del.Raw, &payload); err != nil {
			return nil, fmt.Errorf("decode issue_comment payload: %w", err)
		}
		if !hasTrigger(payload.Comment.Body) {
			return "ignored", nil
		}
		logger.Printf("squad summoned on issue #%d", payload.Issue.Number)
		return "summoned", nil
	})

	d.OnAction(string(ghhook.CheckSuiteEvent), "completed", func(ctx context.Context, del *webhook.Delivery) (interface{}, error) {
		suite, _ := del.Payload["check_suite"].(map[string]interface{})
		conclusion, _ := suite["conclusion"].(string)
		if conclusion != "failure" {
			return "ignored", nil
		}
		logger.Printf("check suite failed, head=%v", suite["head_sha"])
		return "failure-noted", nil
	})
}

func hasTrigger(body string) bool {
	lowered := strings.ToLower(body)
	for _, trigger := range commentTriggers {
		if strings.Contains(lowered, trigger) {
			return true
		}
	}
	return false
}
