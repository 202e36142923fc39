package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Command is one repository operation an agent may invoke by name.
type Command struct {
	// Name is the operation identifier agents use.
	Name string
	// Description documents the operation for prompt assembly.
	Description string
	// Required lists input keys that must be present.
	Required []string
	// Run executes the operation.
	Run func(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

// Validate checks that all required input keys are present.
func (c Command) Validate(input map[string]interface{}) error {
	for _, key := range c.Required {
		if _, ok := input[key]; !ok {
			return fmt.Errorf("%s: missing required input %q", c.Name, key)
		}
	}
	return nil
}

// Execute validates then runs the command.
func (c Command) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	if err := c.Validate(input); err != nil {
		return nil, err
	}
	if c.Run == nil {
		return nil, fmt.Errorf("%s: command has no implementation", c.Name)
	}
	return c.Run(ctx, input)
}

// Registry maps operation names to commands. One registry serves every
// agent; there is a single table of operations rather than one per agent.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command. Registering an existing name replaces it.
func (r *Registry) Register(cmd Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("command name is required")
	}
	r.mu.Lock()
	r.commands[cmd.Name] = cmd
	r.mu.Unlock()
	return nil
}

// Execute runs the named command.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown operation: %s", name)
	}
	return cmd.Execute(ctx, input)
}

// Names returns the registered operation names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
