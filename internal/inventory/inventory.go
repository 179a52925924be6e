// Package inventory describes the collaborating system's optimizable
// surface: which tools and workflows exist, and how configuration
// changes get applied to them.
package inventory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/caelum-ai/kaizen/internal/types"
)

// Tool is one optimizable tool or workflow entry
type Tool struct {
	Name     string   `yaml:"name"`
	Version  string   `yaml:"version,omitempty"`
	Category string   `yaml:"category,omitempty"`
	Workflow string   `yaml:"workflow,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// Provider supplies the current tool catalog
type Provider interface {
	Tools(ctx context.Context) ([]*Tool, error)
}

// FileProvider reads the catalog from a YAML file, typically
// .kaizen/inventory.yaml. The file is re-read on every call so edits
// show up without a restart.
type FileProvider struct {
	Path string
}

// NewFileProvider creates a provider for the given inventory file
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

type inventoryFile struct {
	Tools []*Tool `yaml:"tools"`
}

// Tools reads and parses the inventory file
func (p *FileProvider) Tools(ctx context.Context) ([]*Tool, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// An absent inventory is an empty catalog, not a failure
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inventory %s: %w", p.Path, err)
	}

	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", p.Path, err)
	}

	for i, tool := range file.Tools {
		if tool == nil || strings.TrimSpace(tool.Name) == "" {
			return nil, &types.ValidationError{
				Field:  "tools",
				Reason: fmt.Sprintf("tool %d has no name", i),
			}
		}
	}

	return file.Tools, nil
}

// StaticProvider serves a fixed catalog
type StaticProvider struct {
	tools []*Tool
}

// NewStaticProvider creates a provider over a fixed tool list
func NewStaticProvider(tools []*Tool) *StaticProvider {
	return &StaticProvider{tools: tools}
}

// Tools returns the fixed catalog
func (p *StaticProvider) Tools(ctx context.Context) ([]*Tool, error) {
	return p.tools, nil
}

// SaveDefaultInventory writes a commented starter inventory file
func SaveDefaultInventory(path string) error {
	content := `# kaizen tool inventory
# Lists the tools and workflows the optimizer may reconfigure.
# Subjects in evidence events are matched against tool names here.

tools: []

# Example:
# tools:
#   - name: search_tool
#     version: v1.4.2
#     category: retrieval
#     workflow: research
#     tags: [hot-path]
`
	return os.WriteFile(path, []byte(content), 0644)
}

// VersionSkews finds tools registered under the same name with
// different versions. Mixed versions of one tool usually explain
// inconsistent behavior before anything else does.
func VersionSkews(tools []*Tool) []types.VersionSkew {
	byName := make(map[string]map[string]bool)
	for _, tool := range tools {
		v := tool.Version
		if v == "" {
			continue
		}
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if !semver.IsValid(v) {
			continue
		}
		if byName[tool.Name] == nil {
			byName[tool.Name] = make(map[string]bool)
		}
		byName[tool.Name][semver.Canonical(v)] = true
	}

	var skews []types.VersionSkew
	for name, versions := range byName {
		if len(versions) < 2 {
			continue
		}
		list := make([]string, 0, len(versions))
		for v := range versions {
			list = append(list, v)
		}
		sort.Slice(list, func(i, j int) bool {
			return semver.Compare(list[i], list[j]) < 0
		})
		skews = append(skews, types.VersionSkew{Tool: name, Versions: list})
	}

	sort.Slice(skews, func(i, j int) bool { return skews[i].Tool < skews[j].Tool })
	return skews
}
