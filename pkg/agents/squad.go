package agents

import (
	"context"
	"log"
	"strings"

	"sdlcsquad/pkg/storage"
)

// Squad agent names, as referenced by routing rules.
const (
	AgentRequirements   = "requirements"
	AgentStoryWriter    = "story-writer"
	AgentImplementation = "implementation"
	AgentQA             = "qa"
	AgentIssueResolver  = "issue-resolver"
	AgentSupervisor     = "supervisor"
)

// Squad is the full agent team. Requests addressed to an unknown or empty
// agent go to the supervisor, which coordinates the specialists.
type Squad struct {
	supervisor *Agent
	team       map[string]*Agent
	logger     *log.Logger
}

// SquadConfig carries the shared collaborators for squad construction.
type SquadConfig struct {
	RepoFullName string
	Completer    Completer
	Registry     *Registry
	Store        storage.Store
	Logger       *log.Logger
}

// NewSquad builds the five specialists and the supervisor.
func NewSquad(cfg SquadConfig) *Squad {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	build := func(name, description, prompt string) *Agent {
		return NewAgent(name, description, renderPrompt(prompt, cfg.RepoFullName), cfg.Completer, cfg.Registry, cfg.Store)
	}

	team := map[string]*Agent{
		AgentRequirements:   build(AgentRequirements, "Requirements intake from GitHub issues", requirementsPrompt),
		AgentStoryWriter:    build(AgentStoryWriter, "User stories from clarified requirements", storyWriterPrompt),
		AgentImplementation: build(AgentImplementation, "Code suggestions, branches, and draft PRs", implementationPrompt),
		AgentQA:             build(AgentQA, "PR review, test checklists, CI analysis", qaPrompt),
		AgentIssueResolver:  build(AgentIssueResolver, "Bug triage and root cause analysis", issueResolverPrompt),
	}

	return &Squad{
		supervisor: build(AgentSupervisor, "SDLC workflow supervisor", supervisorPrompt),
		team:       team,
		logger:     logger,
	}
}

// Agent returns the named specialist, or the supervisor when the name is
// empty or unknown.
func (s *Squad) Agent(name string) *Agent {
	if agent, ok := s.team[strings.ToLower(strings.TrimSpace(name))]; ok {
		return agent
	}
	return s.supervisor
}

// Process routes one request to the named agent and returns its reply.
func (s *Squad) Process(ctx context.Context, agentName, sessionID, input string) (string, error) {
	agent := s.Agent(agentName)
	if agent == s.supervisor && agentName != "" && agentName != AgentSupervisor {
		s.logger.Printf("unknown agent %q, routing to supervisor", agentName)
	}
	return agent.Respond(ctx, sessionID, input)
}
