package usecase

// PromptSources carries the system-prompt fragments available for one turn.
type PromptSources struct {
	// ProjectPrompt is the conversation's project-level prompt, if any.
	ProjectPrompt string
	// GeneralInstructions is the user-level default prompt. Ignored
	// entirely when a project prompt exists.
	GeneralInstructions string
	TemplatePrompt      string
	SkillPrompt         string
}

// MergeSystemPrompt concatenates prompt fragments in fixed precedence:
// project prompt OR general instructions (project wins outright, no merging),
// then template prompt, then skill prompt, each separated by a blank line.
func MergeSystemPrompt(src PromptSources) string {
	base := src.ProjectPrompt
	if base == "" {
		base = src.GeneralInstructions
	}

	merged := base
	for _, part := range []string{src.TemplatePrompt, src.SkillPrompt} {
		if part == "" {
			continue
		}
		if merged != "" {
			merged += "\n\n"
		}
		merged += part
	}
	return merged
}
