package promptbuild

// Section is one titled block of a prompt. Content longer than MaxChars
// runes is cut; zero means no limit.
type Section struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// BuildRequest defines inputs for prompt assembly.
type BuildRequest struct {
	// Lens names the prompt family. It labels audit records and selects the
	// template file <lens>.md that replaces Instruction when present.
	Lens     string    `json:"lens"`
	Sections []Section `json:"sections,omitempty"`

	// Instruction is the closing task text.
	Instruction string `json:"instruction,omitempty"`
	// Vars fills {name} placeholders in the instruction or its template.
	Vars map[string]string `json:"vars,omitempty"`

	// IncludeSectionHeaders controls whether section headings are included.
	IncludeSectionHeaders *bool `json:"include_section_headers,omitempty"`
}
