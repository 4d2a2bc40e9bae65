package command

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"duet/internal/engine"
)

// ParseTaskFile decodes a task batch. The document is either a sequence of
// tasks or a mapping with a "tasks" key. Dependencies may use "#N" to name
// the N-th task of the same file.
func ParseTaskFile(data []byte) ([]engine.NewTask, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("task file: payload is empty")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("task file: decode: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	var tasks []engine.NewTask
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&tasks); err != nil {
			return nil, fmt.Errorf("task file: decode tasks: %w", err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Tasks []engine.NewTask `yaml:"tasks"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("task file: decode tasks: %w", err)
		}
		tasks = wrapped.Tasks
	default:
		return nil, fmt.Errorf("task file: expected a list of tasks or a tasks key")
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task file: no tasks")
	}
	return tasks, nil
}

func LoadTaskFile(path string) ([]engine.NewTask, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("task file: read %s: %w", path, err)
	}
	tasks, err := ParseTaskFile(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}
