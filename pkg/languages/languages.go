package languages

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/mini-maxit/judge/pkg/errors"
)

//go:embed languages.yaml
var defaultCatalog []byte

type Language struct {
	ID         string  `yaml:"id" json:"id"`
	Name       string  `yaml:"name" json:"name"`
	Version    string  `yaml:"version" json:"version"`
	Image      string  `yaml:"image" json:"-"`
	SourceFile string  `yaml:"source_file" json:"source_file"`
	BinaryFile string  `yaml:"binary_file" json:"-"`
	Compile    string  `yaml:"compile" json:"-"`
	Run        string  `yaml:"run" json:"-"`
	TimeFactor float64 `yaml:"time_factor" json:"time_factor,omitempty"`
	Disabled   bool    `yaml:"disabled" json:"-"`
}

// LanguageSpec is the public description sent in handshake responses.
type LanguageSpec struct {
	ID           string `json:"id"`
	LanguageName string `json:"language"`
	Version      string `json:"version"`
	Extension    string `json:"extension"`
}

func (l Language) RequiresCompilation() bool {
	return strings.TrimSpace(l.Compile) != ""
}

// CompileCommand expands the compile template against workDir.
func (l Language) CompileCommand(workDir string) ([]string, error) {
	if !l.RequiresCompilation() {
		return nil, nil
	}
	return l.expand(l.Compile, workDir)
}

// RunCommand expands the run template against workDir.
func (l Language) RunCommand(workDir string) ([]string, error) {
	return l.expand(l.Run, workDir)
}

func (l Language) SourcePath(workDir string) string {
	return filepath.Join(workDir, l.SourceFile)
}

func (l Language) expand(tpl, workDir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, fmt.Errorf("%w: %s has an empty command template", errors.ErrInvalidLanguage, l.ID)
	}
	expanded := strings.ReplaceAll(tpl, "{src}", filepath.Join(workDir, l.SourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(workDir, l.BinaryFile))
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("%w: parse command template of %s: %v", errors.ErrInvalidLanguage, l.ID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s command is empty after expansion", errors.ErrInvalidLanguage, l.ID)
	}
	return fields, nil
}

func (l Language) Spec() LanguageSpec {
	return LanguageSpec{
		ID:           l.ID,
		LanguageName: l.Name,
		Version:      l.Version,
		Extension:    strings.TrimPrefix(filepath.Ext(l.SourceFile), "."),
	}
}

func (l Language) validate() error {
	switch {
	case l.ID == "":
		return fmt.Errorf("%w: language id is required", errors.ErrInvalidLanguage)
	case l.SourceFile == "":
		return fmt.Errorf("%w: %s: source_file is required", errors.ErrInvalidLanguage, l.ID)
	case strings.TrimSpace(l.Run) == "":
		return fmt.Errorf("%w: %s: run command is required", errors.ErrInvalidLanguage, l.ID)
	case l.RequiresCompilation() && l.BinaryFile == "":
		return fmt.Errorf("%w: %s: binary_file is required for compiled languages", errors.ErrInvalidLanguage, l.ID)
	case l.TimeFactor < 0:
		return fmt.Errorf("%w: %s: time_factor must not be negative", errors.ErrInvalidLanguage, l.ID)
	}
	return nil
}

// Registry is an immutable set of languages keyed by id.
type Registry struct {
	languages map[string]Language
}

type catalogFile struct {
	Languages []Language `yaml:"languages"`
}

// Load parses a YAML language catalog.
func Load(r io.Reader) (*Registry, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode language catalog: %w", err)
	}
	return NewRegistry(file.Languages...)
}

func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded catalog.
func Default() *Registry {
	reg, err := Load(strings.NewReader(string(defaultCatalog)))
	if err != nil {
		panic(fmt.Sprintf("embedded language catalog is invalid: %v", err))
	}
	return reg
}

func NewRegistry(langs ...Language) (*Registry, error) {
	reg := &Registry{languages: make(map[string]Language, len(langs))}
	for _, l := range langs {
		l.ID = strings.ToLower(l.ID)
		if err := l.validate(); err != nil {
			return nil, err
		}
		if _, dup := reg.languages[l.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate language id %s", errors.ErrInvalidLanguage, l.ID)
		}
		reg.languages[l.ID] = l
	}
	return reg, nil
}

// Get returns an enabled language. Lookups are case-insensitive.
func (r *Registry) Get(id string) (Language, error) {
	l, ok := r.languages[strings.ToLower(strings.TrimSpace(id))]
	if !ok || l.Disabled {
		return Language{}, errors.ErrLanguageNotFound
	}
	return l, nil
}

// List returns the enabled languages sorted by id.
func (r *Registry) List() []Language {
	out := make([]Language, 0, len(r.languages))
	for _, l := range r.languages {
		if !l.Disabled {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Specs() []LanguageSpec {
	langs := r.List()
	specs := make([]LanguageSpec, len(langs))
	for i, l := range langs {
		specs[i] = l.Spec()
	}
	return specs
}
