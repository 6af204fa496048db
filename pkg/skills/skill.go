// Package skills discovers prompt-template skills on disk. A skill is a
// directory containing a SKILL.md file whose YAML frontmatter names and
// describes it; the markdown body is the prompt material handed to the
// provider.
package skills

// Skill is one discovered skill.
type Skill struct {
	Name        string // unique name from frontmatter
	Description string // what the skill is for
	Directory   string // path to the skill directory
	Content     string // SKILL.md body without the frontmatter
}

// Metadata is the YAML frontmatter of a SKILL.md file.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}
