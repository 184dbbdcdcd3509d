package promptbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kayz/thespian/internal/config"
	"github.com/kayz/thespian/internal/logger"
)

// Builder assembles lens prompts from context sections and instructions.
type Builder struct {
	cfg config.PromptConfig
}

// NewBuilder creates a new Builder from config.
func NewBuilder(cfg config.PromptConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Build assembles a prompt and returns the final text.
func (b *Builder) Build(req BuildRequest) (string, error) {
	req = b.applyDefaults(req)
	includeHeaders := *req.IncludeSectionHeaders

	var sections []section
	for _, s := range req.Sections {
		sections = b.appendSection(sections, s.Title, Truncate(strings.TrimSpace(s.Content), s.MaxChars), includeHeaders)
	}

	instruction := fill(b.instruction(req), req.Vars)
	sections = b.appendSection(sections, "Task", instruction, includeHeaders)

	if len(sections) == 0 {
		return "", fmt.Errorf("prompt %q has no content", req.Lens)
	}

	prompt := renderSections(sections)
	if err := b.writeAuditRecord(req, prompt, sections); err != nil {
		logger.Warn("[Prompt] Failed to write audit record: %v", err)
	}
	return prompt, nil
}

type section struct {
	title   string
	content string
}

func (b *Builder) appendSection(list []section, title, content string, includeHeader bool) []section {
	if strings.TrimSpace(content) == "" {
		return list
	}
	if !includeHeader {
		title = ""
	}
	return append(list, section{title: title, content: content})
}

func renderSections(sections []section) string {
	var out strings.Builder
	for i, s := range sections {
		if i > 0 {
			out.WriteString("\n\n")
		}
		if s.title != "" {
			out.WriteString("### ")
			out.WriteString(s.title)
			out.WriteString("\n\n")
		}
		out.WriteString(s.content)
	}
	return out.String()
}

func (b *Builder) applyDefaults(req BuildRequest) BuildRequest {
	if req.IncludeSectionHeaders == nil {
		// default should be true
		defaultValue := true
		req.IncludeSectionHeaders = &defaultValue
	}
	if b.cfg.RootDir == "" {
		b.cfg.RootDir = "."
	}
	if b.cfg.TemplatesDir == "" {
		b.cfg.TemplatesDir = "prompts"
	}
	return req
}

// instruction prefers a template file named after the lens.
func (b *Builder) instruction(req BuildRequest) string {
	lens := strings.TrimSpace(req.Lens)
	if lens != "" {
		if content, ok := b.readTemplate(lens + ".md"); ok {
			return content
		}
	}
	return strings.TrimSpace(req.Instruction)
}

func (b *Builder) readTemplate(path string) (string, bool) {
	fullPath := b.resolveTemplatePath(path)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("[Prompt] Template unreadable, using built-in text: %s", fullPath)
		}
		return "", false
	}
	return strings.TrimSpace(string(content)), true
}

func (b *Builder) resolveTemplatePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.cfg.RootDir, b.cfg.TemplatesDir, p)
}

func (b *Builder) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.cfg.RootDir, p)
}

func fill(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(vars)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Truncate cuts s to max runes and marks the cut with "...". max <= 0
// leaves s untouched.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// JoinTop joins at most limit items with ", ", or returns fallback when
// there are none.
func JoinTop(items []string, limit int, fallback string) string {
	var kept []string
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		kept = append(kept, item)
		if limit > 0 && len(kept) == limit {
			break
		}
	}
	if len(kept) == 0 {
		return fallback
	}
	return strings.Join(kept, ", ")
}
