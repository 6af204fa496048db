package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quillhq/quill/pkg/skills"
	tooltypes "github.com/quillhq/quill/pkg/types/tools"
)

var _ tooltypes.Tool = &SkillTool{}

// SkillTool exposes the discovered on-disk skills to the provider. Invoking
// it returns the skill's instruction body.
type SkillTool struct {
	skills map[string]*skills.Skill
}

// SkillInput is the input schema of the skill tool.
type SkillInput struct {
	SkillName string `json:"skill_name" jsonschema:"description=The name of the skill to invoke"`
}

// NewSkillTool creates a skill tool over the discovered skills.
func NewSkillTool(discovered map[string]*skills.Skill) *SkillTool {
	return &SkillTool{skills: discovered}
}

func (t *SkillTool) Name() string {
	return "skill"
}

// Description lists the available skills so the model can pick one.
func (t *SkillTool) Description() string {
	var sb strings.Builder
	sb.WriteString("Invoke a specialized skill by name to get its instructions and supporting material.\n\n")
	sb.WriteString("## Available Skills\n\n")

	if len(t.skills) == 0 {
		sb.WriteString("No skills are currently available.\n")
		return sb.String()
	}

	names := make([]string, 0, len(t.skills))
	for name := range t.skills {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		skill := t.skills[name]
		sb.WriteString(fmt.Sprintf("### %s\n", skill.Name))
		sb.WriteString(fmt.Sprintf("- **Description**: %s\n", skill.Description))
		sb.WriteString(fmt.Sprintf("- **Directory**: `%s`\n\n", skill.Directory))
	}
	return sb.String()
}

func (t *SkillTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[SkillInput]()
}

func (t *SkillTool) ValidateInput(parameters string) error {
	var input SkillInput
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return errors.Wrap(err, "invalid skill input")
	}
	if input.SkillName == "" {
		return errors.New("skill_name is required")
	}
	if _, ok := t.skills[input.SkillName]; !ok {
		return errors.Errorf("skill %q not found", input.SkillName)
	}
	return nil
}

func (t *SkillTool) TracingKVs(parameters string) ([]attribute.KeyValue, error) {
	var input SkillInput
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return nil, err
	}
	return []attribute.KeyValue{attribute.String("skill.name", input.SkillName)}, nil
}

func (t *SkillTool) Execute(_ context.Context, parameters string) tooltypes.ToolResult {
	var input SkillInput
	if err := json.Unmarshal([]byte(parameters), &input); err != nil {
		return tooltypes.ToolResult{Error: errors.Wrap(err, "invalid skill input").Error()}
	}

	skill, ok := t.skills[input.SkillName]
	if !ok {
		return tooltypes.ToolResult{Error: fmt.Sprintf("skill %q not found", input.SkillName)}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Skill: %s\n\n", skill.Name))
	sb.WriteString(fmt.Sprintf("Directory: %s\n\n", skill.Directory))
	sb.WriteString(skill.Content)
	return tooltypes.ToolResult{Result: sb.String()}
}
