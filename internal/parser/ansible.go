package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloo-solutions/repomem/internal/domain"
)

var ansibleSignature = regexp.MustCompile(`(?m)^-\s+(hosts|import_playbook):|^-\s+name:.*\n\s+hosts:`)

// Keys of a play holding task lists.
var ansibleTaskSections = []string{"pre_tasks", "tasks", "post_tasks", "handlers"}

// Task keywords that are not module names.
var ansibleTaskKeywords = map[string]bool{
	"name": true, "when": true, "register": true, "loop": true, "with_items": true, "tags": true,
	"become": true, "become_user": true, "notify": true, "vars": true, "ignore_errors": true,
	"changed_when": true, "failed_when": true, "delegate_to": true, "run_once": true, "environment": true,
	"no_log": true, "until": true, "retries": true, "delay": true, "args": true, "loop_control": true,
	"block": true, "rescue": true, "always": true, "listen": true, "check_mode": true,
}

// AnsibleParser chunks playbooks into plays with nested tasks, and task
// files into tasks.
type AnsibleParser struct{}

// NewAnsibleParser creates an AnsibleParser.
func NewAnsibleParser() *AnsibleParser { return &AnsibleParser{} }

func (p *AnsibleParser) Language() string     { return "ansible" }
func (p *AnsibleParser) Extensions() []string { return nil }
func (p *AnsibleParser) Specializes() string  { return "yaml" }

func (p *AnsibleParser) MatchFilename(path string) bool {
	slashed := filepath.ToSlash(strings.ToLower(path))
	base := filepath.Base(slashed)
	ext := filepath.Ext(base)
	if ext != ".yml" && ext != ".yaml" {
		return false
	}
	if base == "site.yml" || base == "site.yaml" || strings.HasPrefix(base, "playbook") {
		return true
	}
	for _, dir := range []string{"/tasks/", "/handlers/", "playbooks/"} {
		if strings.Contains("/"+slashed, dir) {
			return true
		}
	}
	return false
}

func (p *AnsibleParser) SniffContent(content string) bool {
	return ansibleSignature.MatchString(content)
}

func (p *AnsibleParser) Parse(content, path string) ([]domain.SemanticChunk, error) {
	s := newSource(content)
	docs, err := splitYAMLDocuments(s)
	if err != nil {
		return nil, err
	}

	var chunks []domain.SemanticChunk
	for _, d := range docs {
		if d.root.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("playbook document at line %d is not a list", d.start)
		}
		items := d.root.Content
		starts := make([]int, len(items))
		for i, item := range items {
			starts[i] = item.Line
		}
		ranges := itemRanges(s, d, starts, d.end)

		for i, item := range items {
			start, end := ranges[i][0], ranges[i][1]
			if isPlay(item) {
				chunks = append(chunks, p.play(s, d, item, i, start, end)...)
				continue
			}
			chunks = append(chunks, s.chunk(domain.ChunkTypeTask, taskName(item, i), start, end, taskMeta(item, "")))
		}
	}
	return chunks, nil
}

func isPlay(item *yaml.Node) bool {
	return mappingValue(item, "hosts") != nil || mappingValue(item, "import_playbook") != nil
}

func (p *AnsibleParser) play(s *source, d yamlDoc, item *yaml.Node, idx, start, end int) []domain.SemanticChunk {
	name := mappingString(item, "name")
	hosts := mappingString(item, "hosts")
	if name == "" {
		switch {
		case hosts != "":
			name = "hosts: " + hosts
		default:
			name = fmt.Sprintf("play[%d]", idx)
		}
	}

	meta := domain.ChunkMetadata{}
	if hosts != "" {
		meta.Parameters = []string{hosts}
	}
	if pb := mappingString(item, "import_playbook"); pb != "" {
		meta.Dependencies = append(meta.Dependencies, pb)
	}
	meta.Dependencies = appendUnique(meta.Dependencies, stringList(mappingValue(item, "roles"))...)
	meta.Exports = stringList(mappingValue(item, "vars"))

	chunks := []domain.SemanticChunk{s.chunk(domain.ChunkTypePlay, name, start, end, meta)}
	for _, section := range ansibleTaskSections {
		tasks := mappingValue(item, section)
		if tasks == nil || tasks.Kind != yaml.SequenceNode {
			continue
		}
		for _, task := range tasks.Content {
			tStart := d.abs(task.Line)
			tEnd := d.abs(nodeEndLine(task))
			if tEnd > end {
				tEnd = end
			}
			if tStart < start || tStart > tEnd {
				continue
			}
			chunks = append(chunks, s.chunk(domain.ChunkTypeTask, taskName(task, len(chunks)-1), tStart, tEnd, taskMeta(task, name)))
		}
	}
	return chunks
}

func taskName(task *yaml.Node, idx int) string {
	if name := mappingString(task, "name"); name != "" {
		return name
	}
	if module := taskModule(task); module != "" {
		return module
	}
	return fmt.Sprintf("task[%d]", idx)
}

// taskModule returns the first key that is not a task keyword.
func taskModule(task *yaml.Node) string {
	for _, pr := range mappingPairs(task) {
		if !ansibleTaskKeywords[pr.key.Value] {
			return pr.key.Value
		}
	}
	return ""
}

func taskMeta(task *yaml.Node, parent string) domain.ChunkMetadata {
	meta := domain.ChunkMetadata{Parent: parent}
	if module := taskModule(task); module != "" {
		meta.Dependencies = append(meta.Dependencies, module)
		switch module {
		case "include_tasks", "import_tasks", "include_role", "import_role",
			"ansible.builtin.include_tasks", "ansible.builtin.import_tasks",
			"ansible.builtin.include_role", "ansible.builtin.import_role":
			v := mappingValue(task, module)
			if target := mappingString(v, "name"); target != "" {
				meta.Dependencies = appendUnique(meta.Dependencies, target)
			} else if v != nil && v.Kind == yaml.ScalarNode {
				meta.Dependencies = appendUnique(meta.Dependencies, v.Value)
			}
		}
	}
	meta.Exports = stringList(mappingValue(task, "register"))
	meta.Parameters = stringList(mappingValue(task, "notify"))
	return meta
}
