package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quillhq/quill/pkg/config"
	"github.com/quillhq/quill/pkg/presenter"
	"github.com/quillhq/quill/pkg/skills"
	"github.com/quillhq/quill/pkg/tools"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and invoke discovered agent skills",
	Long: `Skills are markdown documents with YAML frontmatter discovered from
./.quill/skills and ~/.quill/skills. They extend the agent with reusable
instructions.`,
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		discovery, err := skills.NewDiscovery(skills.WithDefaultDirs())
		if err != nil {
			return err
		}
		renderSkills(skills.FilterByAllowlist(discovery.Discover(), cfg.SkillsAllowed))

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			ctx := cmd.Context()
			watcher, err := skills.NewWatcher(discovery, func(fresh map[string]*skills.Skill) {
				renderSkills(skills.FilterByAllowlist(fresh, cfg.SkillsAllowed))
			})
			if err != nil {
				return err
			}
			defer watcher.Stop()
			watcher.Start(ctx)
			<-ctx.Done()
		}
		return nil
	},
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the full content of a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		discovery, err := skills.NewDiscovery(skills.WithDefaultDirs())
		if err != nil {
			return err
		}
		skill, err := discovery.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(skill.Content)
		return nil
	},
}

var skillsInvokeCmd = &cobra.Command{
	Use:   "invoke <name>",
	Short: "Execute a skill through the native skill tool",
	Long: `Execute one discovered skill through the same tool path providers use
and print its rendered instructions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		discovery, err := skills.NewDiscovery(skills.WithDefaultDirs())
		if err != nil {
			return err
		}
		discovered := skills.FilterByAllowlist(discovery.Discover(), cfg.SkillsAllowed)

		output, err := invokeSkill(cmd.Context(), discovered, args[0])
		if err != nil {
			return err
		}
		fmt.Println(output)
		return nil
	},
}

func renderSkills(discovered map[string]*skills.Skill) {
	if len(discovered) == 0 {
		presenter.Info("No skills found")
		return
	}
	presenter.Table([]string{"Name", "Description", "Directory"}, skillRows(discovered))
}

// skillRows flattens a skill map into sorted table rows.
func skillRows(discovered map[string]*skills.Skill) [][]string {
	names := make([]string, 0, len(discovered))
	for name := range discovered {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		skill := discovered[name]
		rows = append(rows, []string{skill.Name, skill.Description, skill.Directory})
	}
	return rows
}

// invokeSkill runs one skill through the native skill tool, returning its
// rendered output or the tool-level error.
func invokeSkill(ctx context.Context, discovered map[string]*skills.Skill, name string) (string, error) {
	tool := tools.NewSkillTool(discovered)

	params, err := json.Marshal(tools.SkillInput{SkillName: name})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode skill input")
	}
	if err := tool.ValidateInput(string(params)); err != nil {
		return "", err
	}

	result := tool.Execute(ctx, string(params))
	if result.IsError() {
		return "", errors.New(result.Error)
	}
	return result.Result, nil
}

func init() {
	skillsListCmd.Flags().Bool("watch", false, "Keep running and re-render when skill directories change")
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)
	skillsCmd.AddCommand(skillsInvokeCmd)
	rootCmd.AddCommand(skillsCmd)
}
