package tools

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sample_index.yaml
var sampleIndex []byte

// Kinds of indexed types.
const (
	KindClass     = "class"
	KindEnum      = "enum"
	KindInterface = "interface"
	KindStruct    = "struct"
)

// Class is one indexed type.
type Class struct {
	Name         string   `yaml:"name"`
	Namespace    string   `yaml:"namespace"`
	Kind         string   `yaml:"kind"`
	Base         string   `yaml:"base"`
	Interfaces   []string `yaml:"interfaces"`
	File         string   `yaml:"file"`
	Summary      string   `yaml:"summary"`
	Methods      []string `yaml:"methods"`
	Fields       []string `yaml:"fields"`
	Dependencies []string `yaml:"dependencies"`
	Values       []string `yaml:"values"`
}

// Declaration renders the type's declaration line.
func (c *Class) Declaration() string {
	kind := c.Kind
	if kind == "" {
		kind = KindClass
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "public %s %s", kind, c.Name)
	parents := c.Interfaces
	if c.Base != "" {
		parents = append([]string{c.Base}, parents...)
	}
	if len(parents) > 0 {
		fmt.Fprintf(&sb, " : %s", strings.Join(parents, ", "))
	}
	return sb.String()
}

// Index is an in-memory catalogue of types standing in for a code parser.
type Index struct {
	Classes []Class `yaml:"classes"`

	byName map[string]*Class
}

// ParseIndex decodes a YAML index.
func ParseIndex(data []byte) (*Index, error) {
	var idx Index
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&idx); err != nil {
		return nil, fmt.Errorf("failed to parse class index: %w", err)
	}
	idx.byName = make(map[string]*Class, len(idx.Classes))
	for i := range idx.Classes {
		c := &idx.Classes[i]
		if c.Name == "" {
			return nil, fmt.Errorf("class index entry %d has no name", i)
		}
		if c.Kind == "" {
			c.Kind = KindClass
		}
		if _, dup := idx.byName[strings.ToLower(c.Name)]; dup {
			return nil, fmt.Errorf("class %q is indexed twice", c.Name)
		}
		idx.byName[strings.ToLower(c.Name)] = c
	}
	return &idx, nil
}

// LoadIndex reads an index file.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open class index: %w", err)
	}
	return ParseIndex(data)
}

// SampleIndex returns the built-in sample project.
func SampleIndex() *Index {
	idx, err := ParseIndex(sampleIndex)
	if err != nil {
		panic(err)
	}
	return idx
}

// Lookup finds a type by case-insensitive name.
func (x *Index) Lookup(name string) (*Class, bool) {
	c, ok := x.byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Ancestors returns the base chain of c, nearest first. Unindexed bases
// (engine types) end the chain but are included.
func (x *Index) Ancestors(c *Class) []string {
	var out []string
	seen := map[string]bool{strings.ToLower(c.Name): true}
	for base := c.Base; base != ""; {
		if seen[strings.ToLower(base)] {
			break
		}
		seen[strings.ToLower(base)] = true
		out = append(out, base)
		parent, ok := x.Lookup(base)
		if !ok {
			break
		}
		base = parent.Base
	}
	return out
}

// DerivesFrom reports whether c inherits from base, directly or not.
func (x *Index) DerivesFrom(c *Class, base string) bool {
	for _, a := range x.Ancestors(c) {
		if strings.EqualFold(a, base) {
			return true
		}
	}
	return false
}

// Derived lists the indexed types whose direct base is name.
func (x *Index) Derived(name string) []string {
	var out []string
	for i := range x.Classes {
		if strings.EqualFold(x.Classes[i].Base, name) {
			out = append(out, x.Classes[i].Name)
		}
	}
	sort.Strings(out)
	return out
}

// Dependents lists the indexed types that depend on name.
func (x *Index) Dependents(name string) []string {
	var out []string
	for i := range x.Classes {
		for _, d := range x.Classes[i].Dependencies {
			if strings.EqualFold(d, name) {
				out = append(out, x.Classes[i].Name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Filter selects types.
type Filter struct {
	Query     string
	Namespace string
	Kind      string
	Base      string
}

func (f Filter) matches(x *Index, c *Class) bool {
	if f.Namespace != "" && !strings.EqualFold(c.Namespace, f.Namespace) &&
		!strings.HasPrefix(strings.ToLower(c.Namespace), strings.ToLower(f.Namespace)+".") {
		return false
	}
	if f.Kind != "" && !strings.EqualFold(c.Kind, f.Kind) {
		return false
	}
	if f.Base != "" && !x.DerivesFrom(c, f.Base) {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	for _, term := range strings.Fields(q) {
		if strings.Contains(strings.ToLower(c.Name), term) || strings.Contains(strings.ToLower(c.Summary), term) {
			return true
		}
	}
	return false
}

// Find returns matching types ranked by how well the name fits the query:
// names equal to a term first, then names containing a term, then namespace
// or summary matches. Ties sort by name.
func (x *Index) Find(f Filter) []*Class {
	var out []*Class
	for i := range x.Classes {
		if f.matches(x, &x.Classes[i]) {
			out = append(out, &x.Classes[i])
		}
	}
	terms := strings.Fields(strings.ToLower(f.Query))
	rank := make(map[*Class]int, len(out))
	for _, c := range out {
		rank[c] = matchRank(c, terms)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank[out[i]], rank[out[j]]
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

const (
	rankExactName = iota
	rankNameContains
	rankOther
)

func matchRank(c *Class, terms []string) int {
	name := strings.ToLower(c.Name)
	best := rankOther
	for _, term := range terms {
		switch {
		case name == term:
			return rankExactName
		case strings.Contains(name, term):
			best = rankNameContains
		}
	}
	return best
}
