package skills

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	// MaxArgsBytes caps the serialized args document a plan may pass a skill.
	MaxArgsBytes = 64 * 1024
	// MaxArgsDepth caps nesting inside the args document.
	MaxArgsDepth = 5
)

// ErrUnknownSkill is returned when a plan names a skill that discovery did
// not find.
var ErrUnknownSkill = errors.New("unknown skill")

// ArgsError describes why a task's args were rejected; its message is fed
// back to the planner on validation retries.
type ArgsError struct {
	Skill   string
	Message string
}

func (e *ArgsError) Error() string {
	return fmt.Sprintf("invalid args for skill %s: %s", e.Skill, e.Message)
}

// Skill is one discovered skill: its manifest, on-disk directory, and the
// compiled args schema.
type Skill struct {
	Manifest
	Dir    string
	schema *jsonschema.Schema
}

// Registry holds the skills discovered at startup. It is immutable after
// Discover; rediscovery builds a new Registry.
type Registry struct {
	skills map[string]*Skill
}

// Discover scans dir for subdirectories containing a skill.yaml and builds a
// registry. Directories with a missing or invalid manifest are skipped with a
// warning so one broken skill cannot take the runtime down.
func Discover(dir string) (*Registry, error) {
	reg := &Registry{skills: map[string]*Skill{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to read skills dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, e.Name())
		m, err := loadManifest(skillDir)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Skipping skill with bad manifest", "dir", skillDir, "error", err)
			}
			continue
		}
		schema, err := compileArgsSchema(m)
		if err != nil {
			slog.Warn("Skipping skill with uncompilable args schema", "skill", m.Name, "error", err)
			continue
		}
		if prev, dup := reg.skills[m.Name]; dup {
			slog.Warn("Duplicate skill name, keeping first", "skill", m.Name, "kept", prev.Dir, "skipped", skillDir)
			continue
		}
		reg.skills[m.Name] = &Skill{Manifest: *m, Dir: skillDir, schema: schema}
	}
	return reg, nil
}

// Get returns the named skill or ErrUnknownSkill.
func (r *Registry) Get(name string) (*Skill, error) {
	s, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}
	return s, nil
}

// List returns all skills sorted by name, for the planner's prompt.
func (r *Registry) List() []*Skill {
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of discovered skills.
func (r *Registry) Len() int { return len(r.skills) }

// Filtered returns a registry holding only the skills allow admits. Workers
// use it to scope plans and skill tasks to the user's grants.
func (r *Registry) Filtered(allow func(name string) bool) *Registry {
	out := &Registry{skills: map[string]*Skill{}}
	for name, s := range r.skills {
		if allow(name) {
			out.skills[name] = s
		}
	}
	return out
}

// ValidateArgs checks a raw args document against the skill's declared
// schema, the size cap, and the nesting cap, and returns the decoded document
// with declared defaults filled in for absent optional args.
func (s *Skill) ValidateArgs(raw string) (map[string]any, error) {
	if raw == "" {
		raw = "{}"
	}
	if len(raw) > MaxArgsBytes {
		return nil, &ArgsError{Skill: s.Name, Message: fmt.Sprintf("args exceed %d bytes", MaxArgsBytes)}
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &ArgsError{Skill: s.Name, Message: "args is not valid JSON"}
	}
	if depth(doc) > MaxArgsDepth {
		return nil, &ArgsError{Skill: s.Name, Message: fmt.Sprintf("args nest deeper than %d levels", MaxArgsDepth)}
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, &ArgsError{Skill: s.Name, Message: err.Error()}
	}
	args, ok := doc.(map[string]any)
	if !ok {
		return nil, &ArgsError{Skill: s.Name, Message: "args must be a JSON object"}
	}
	for _, a := range s.Args {
		if _, present := args[a.Name]; !present && a.Default != nil {
			args[a.Name] = a.Default
		}
	}
	return args, nil
}

// compileArgsSchema turns the manifest's arg declarations into a JSON schema.
func compileArgsSchema(m *Manifest) (*jsonschema.Schema, error) {
	props := map[string]any{}
	var required []any
	for _, a := range m.Args {
		props[a.Name] = map[string]any{"type": validArgTypes[a.Type]}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("args.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add args schema: %w", err)
	}
	schema, err := c.Compile("args.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile args schema: %w", err)
	}
	return schema, nil
}

func depth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range t {
			if d := depth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range t {
			if d := depth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}
