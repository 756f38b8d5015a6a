package report

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

// DeclaredVersion names a dataset or tool and the version the run used.
type DeclaredVersion struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
	URI     string `yaml:"uri,omitempty" json:"uri,omitempty"`
}

// DeclaredInputs are the dataset and tool versions an operator declares for
// a run, read from a YAML file:
//
//	datasets:
//	  - name: hansen_gfc
//	    version: GFC-2024-v1.12
//	tools:
//	  - name: gdal
//	    version: "3.8.4"
//	parameters:
//	  operator: field-team-3
type DeclaredInputs struct {
	Datasets   []DeclaredVersion `yaml:"datasets" json:"datasets"`
	Tools      []DeclaredVersion `yaml:"tools" json:"tools"`
	Parameters map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// LoadDeclaredInputs reads and normalizes a declared inputs file.
func LoadDeclaredInputs(path string) (DeclaredInputs, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DeclaredInputs{}, err
	}
	return ParseDeclaredInputs(b)
}

// ParseDeclaredInputs decodes YAML and sorts entries by name. Unknown keys
// are rejected so typos do not silently drop declarations.
func ParseDeclaredInputs(b []byte) (DeclaredInputs, error) {
	var in DeclaredInputs
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		return DeclaredInputs{}, fmt.Errorf("declared inputs: %w", err)
	}
	for _, list := range [][]DeclaredVersion{in.Datasets, in.Tools} {
		for i := range list {
			list[i].Name = strings.TrimSpace(list[i].Name)
			list[i].Version = strings.TrimSpace(list[i].Version)
			if list[i].Name == "" {
				return DeclaredInputs{}, fmt.Errorf("declared inputs: entry %d has no name", i)
			}
		}
	}
	in.Normalize()
	return in, nil
}

// Normalize sorts entries and replaces nil slices with empty ones.
func (d *DeclaredInputs) Normalize() {
	if d.Datasets == nil {
		d.Datasets = []DeclaredVersion{}
	}
	if d.Tools == nil {
		d.Tools = []DeclaredVersion{}
	}
	byName := func(s []DeclaredVersion) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].Name != s[j].Name {
				return s[i].Name < s[j].Name
			}
			return s[i].Version < s[j].Version
		}
	}
	sort.SliceStable(d.Datasets, byName(d.Datasets))
	sort.SliceStable(d.Tools, byName(d.Tools))
}

// CollectPolicyRefs merges explicit references with the lines of ref files.
// Blank lines and lines starting with '#' are ignored; the result is
// trimmed, de-duplicated and sorted. References are never interpreted.
func CollectPolicyRefs(refs []string, files []string) ([]string, error) {
	set := make(map[string]struct{})
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			set[r] = struct{}{}
		}
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("policy refs: %w", err)
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			set[line] = struct{}{}
		}
		err = sc.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("policy refs %s: %w", path, err)
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}
