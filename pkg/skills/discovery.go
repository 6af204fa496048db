package skills

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	yaml "gopkg.in/yaml.v2"
)

const skillFileName = "SKILL.md"

// Discovery scans configured directories for skills. Earlier directories
// take precedence when two skills share a name.
type Discovery struct {
	dirs []string
}

// Option configures a Discovery.
type Option func(*Discovery) error

// WithDirs sets the directories to scan, in precedence order.
func WithDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.dirs = dirs
		return nil
	}
}

// WithDefaultDirs scans the repo-local directory first, then the user-global
// one.
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		base := os.Getenv("QUILL_BASE_PATH")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return errors.Wrap(err, "failed to get user home directory")
			}
			base = filepath.Join(home, ".quill")
		}
		d.dirs = []string{
			"./.quill/skills",
			filepath.Join(base, "skills"),
		}
		return nil
	}
}

// NewDiscovery creates a Discovery; with no options it scans the defaults.
func NewDiscovery(opts ...Option) (*Discovery, error) {
	d := &Discovery{}
	if len(opts) == 0 {
		opts = []Option{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Discover finds every skill under the configured directories. Unreadable
// directories and malformed skill files are skipped, not fatal.
func (d *Discovery) Discover() map[string]*Skill {
	skills := make(map[string]*Skill)
	for _, dir := range d.dirs {
		matches, err := doublestar.Glob(os.DirFS(dir), "*/"+skillFileName)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, match := range matches {
			path := filepath.Join(dir, filepath.FromSlash(match))
			skill, err := loadSkill(path)
			if err != nil {
				continue
			}
			if _, exists := skills[skill.Name]; exists {
				continue
			}
			skill.Directory = filepath.Dir(path)
			skills[skill.Name] = skill
		}
	}
	return skills
}

// Get returns one skill by name.
func (d *Discovery) Get(name string) (*Skill, error) {
	skill, ok := d.Discover()[name]
	if !ok {
		return nil, errors.Errorf("skill %q not found", name)
	}
	return skill, nil
}

// Names returns the sorted names of every discovered skill.
func (d *Discovery) Names() []string {
	skills := d.Discover()
	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadSkill parses one SKILL.md, requiring name and description frontmatter.
func loadSkill(path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	pctx := parser.NewContext()
	var buf bytes.Buffer
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse skill markdown")
	}

	frontmatter := meta.Get(pctx)
	if frontmatter == nil {
		return nil, errors.New("missing frontmatter")
	}

	metadata, err := decodeMetadata(frontmatter)
	if err != nil {
		return nil, err
	}
	if metadata.Name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	if metadata.Description == "" {
		return nil, errors.New("skill description is required in frontmatter")
	}

	return &Skill{
		Name:        metadata.Name,
		Description: metadata.Description,
		Content:     stripFrontmatter(string(content)),
	}, nil
}

// decodeMetadata maps the raw frontmatter into Metadata through a YAML
// round-trip so type coercion follows YAML rules.
func decodeMetadata(frontmatter map[string]interface{}) (*Metadata, error) {
	raw, err := yaml.Marshal(frontmatter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-encode frontmatter")
	}
	var metadata Metadata
	if err := yaml.Unmarshal(raw, &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to decode frontmatter")
	}
	return &metadata, nil
}

// stripFrontmatter returns the markdown body after the closing delimiter.
func stripFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}
	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
		}
	}
	return content
}

// FilterByAllowlist keeps only the named skills; an empty allowlist keeps
// everything.
func FilterByAllowlist(skills map[string]*Skill, allowed []string) map[string]*Skill {
	if len(allowed) == 0 {
		return skills
	}
	filtered := make(map[string]*Skill)
	for _, name := range allowed {
		if skill, ok := skills[name]; ok {
			filtered[name] = skill
		}
	}
	return filtered
}
