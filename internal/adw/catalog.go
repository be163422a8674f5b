package adw

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// TemplateInfo describes one runnable workflow template from the catalog.
type TemplateInfo struct {
	Template         Template
	Name             string
	Description      string
	Classification   Classification
	BaseCostEstimate float64
	Phases           []string

	// Content is the full markdown source, served on the docs surface.
	Content string
}

// templateFrontmatter mirrors the YAML frontmatter of a template file.
type templateFrontmatter struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Classification   string   `yaml:"classification"`
	BaseCostEstimate float64  `yaml:"base_cost_estimate"`
	Phases           []string `yaml:"phases"`
}

// frontmatterDelimiter is the standard YAML frontmatter delimiter.
const frontmatterDelimiter = "---"

// Catalog indexes the built-in workflow templates by enum value.
type Catalog struct {
	byTemplate map[Template]TemplateInfo
	ordered    []TemplateInfo
}

// LoadCatalog parses the embedded template files. The embedded set must
// cover every template enum value exactly once; anything else is a build
// defect, not a runtime condition, so it fails hard.
func LoadCatalog() (*Catalog, error) {
	return loadCatalogFromFS(templateFiles, "templates")
}

func loadCatalogFromFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading template directory: %w", err)
	}

	byTemplate := make(map[Template]TemplateInfo, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		// path.Join, not filepath.Join: embedded filesystems always use
		// forward slashes.
		fsPath := path.Join(dir, entry.Name())
		content, err := fs.ReadFile(fsys, fsPath)
		if err != nil {
			return nil, fmt.Errorf("reading template file %s: %w", fsPath, err)
		}

		info, err := parseTemplateFile(string(content), entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", entry.Name(), err)
		}
		if _, dup := byTemplate[info.Template]; dup {
			return nil, fmt.Errorf("duplicate template %s", info.Template)
		}
		byTemplate[info.Template] = info
	}

	ordered := make([]TemplateInfo, 0, len(byTemplate))
	for _, t := range AllTemplates() {
		info, ok := byTemplate[t]
		if !ok {
			return nil, fmt.Errorf("missing template file for %s", t)
		}
		ordered = append(ordered, info)
	}

	return &Catalog{byTemplate: byTemplate, ordered: ordered}, nil
}

// parseTemplateFile parses one template description from its content and
// filename. The template identity derives from the filename, mirroring how
// the slash-command alias derives from the template name.
func parseTemplateFile(content, filename string) (TemplateInfo, error) {
	t := Template(strings.TrimSuffix(filename, ".md"))
	if !t.IsValid() {
		return TemplateInfo{}, fmt.Errorf("filename %q does not name a known template", filename)
	}

	fm, err := parseFrontmatter(content)
	if err != nil {
		return TemplateInfo{}, err
	}

	classification := ClassificationFeature
	if fm.Classification != "" {
		classification = Classification(fm.Classification)
		if !classification.IsValid() {
			return TemplateInfo{}, fmt.Errorf("unknown classification %q", fm.Classification)
		}
	}
	if fm.BaseCostEstimate < 0 {
		return TemplateInfo{}, fmt.Errorf("negative base cost estimate %v", fm.BaseCostEstimate)
	}

	return TemplateInfo{
		Template:         t,
		Name:             fm.Name,
		Description:      fm.Description,
		Classification:   classification,
		BaseCostEstimate: fm.BaseCostEstimate,
		Phases:           fm.Phases,
		Content:          content,
	}, nil
}

// parseFrontmatter extracts and parses YAML frontmatter from markdown
// content. Frontmatter must start the file, delimited by "---".
func parseFrontmatter(content string) (templateFrontmatter, error) {
	var fm templateFrontmatter

	if !strings.HasPrefix(content, frontmatterDelimiter) {
		return fm, fmt.Errorf("content does not start with frontmatter delimiter")
	}

	rest := content[len(frontmatterDelimiter):]
	yamlContent, _, found := strings.Cut(rest, "\n"+frontmatterDelimiter)
	if !found {
		return fm, fmt.Errorf("no closing frontmatter delimiter found")
	}
	yamlContent = strings.TrimPrefix(yamlContent, "\n")

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(yamlContent)))
	if err := decoder.Decode(&fm); err != nil {
		return fm, fmt.Errorf("parsing YAML: %w", err)
	}

	if fm.Name == "" {
		return fm, fmt.Errorf("frontmatter missing required field: name")
	}
	return fm, nil
}

// Get returns the catalog entry for a template.
func (c *Catalog) Get(t Template) (TemplateInfo, bool) {
	info, ok := c.byTemplate[t]
	return info, ok
}

// All returns every catalog entry in display order.
func (c *Catalog) All() []TemplateInfo {
	out := make([]TemplateInfo, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// EstimateCost previews the cost of running a template with the given model
// set and complexity. Zero values fall back to base and medium.
func (c *Catalog) EstimateCost(t Template, modelSet ModelSet, complexity Complexity) (float64, error) {
	info, ok := c.Get(t)
	if !ok {
		return 0, fmt.Errorf("unknown workflow template %q", t)
	}
	if modelSet == "" {
		modelSet = ModelSetBase
	}
	if complexity == "" {
		complexity = ComplexityMedium
	}
	if !modelSet.IsValid() {
		return 0, fmt.Errorf("invalid model set %q", modelSet)
	}
	if !complexity.IsValid() {
		return 0, fmt.Errorf("invalid complexity %q", complexity)
	}
	return info.BaseCostEstimate * modelSet.CostMultiplier() * complexity.CostMultiplier(), nil
}
