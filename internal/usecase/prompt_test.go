package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSystemPrompt(t *testing.T) {
	tests := []struct {
		name string
		src  PromptSources
		want string
	}{
		{
			name: "empty",
			src:  PromptSources{},
			want: "",
		},
		{
			name: "general only",
			src:  PromptSources{GeneralInstructions: "be brief"},
			want: "be brief",
		},
		{
			name: "project wins outright over general",
			src: PromptSources{
				ProjectPrompt:       "project rules",
				GeneralInstructions: "be brief",
			},
			want: "project rules",
		},
		{
			name: "template appended with blank line",
			src: PromptSources{
				GeneralInstructions: "be brief",
				TemplatePrompt:      "use markdown",
			},
			want: "be brief\n\nuse markdown",
		},
		{
			name: "full stack in order",
			src: PromptSources{
				ProjectPrompt:       "project rules",
				GeneralInstructions: "ignored",
				TemplatePrompt:      "use markdown",
				SkillPrompt:         "cite sources",
			},
			want: "project rules\n\nuse markdown\n\ncite sources",
		},
		{
			name: "skill only",
			src:  PromptSources{SkillPrompt: "cite sources"},
			want: "cite sources",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeSystemPrompt(tt.src))
		})
	}
}
