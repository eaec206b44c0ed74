package prompt

import (
	"strings"
	"testing"

	"storybook/internal/model"
)

func TestStyleDirective_Normalized(t *testing.T) {
	s := StyleDirective()
	if s != strings.TrimSpace(s) {
		t.Errorf("directive has surrounding whitespace")
	}
	if strings.Contains(s, "  ") || strings.ContainsAny(s, "\n\t") {
		t.Errorf("directive is not whitespace-normalized: %q", s)
	}
	if StyleDirective() != s {
		t.Errorf("directive is not stable between calls")
	}
}

func TestUniqueCharacters_CaseSensitive(t *testing.T) {
	got := UniqueCharacters([]string{"Remy", "Chef", "Remy", "remy"})
	want := []string{"Remy", "Chef", "remy"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("UniqueCharacters = %q, want %q", got, want)
	}
}

func TestCoverPrompt(t *testing.T) {
	style := StyleDirective()
	p := CoverPrompt("Little Chef", "adventure", []string{"Remy", "Remy", "Gus"}, style)
	if strings.Count(p, "Remy") != 1 {
		t.Errorf("duplicate character in cover prompt: %s", p)
	}
	if !strings.HasSuffix(p, style) {
		t.Errorf("cover prompt does not end with style directive")
	}
	if !strings.Contains(p, `"Little Chef"`) {
		t.Errorf("cover prompt missing title: %s", p)
	}
}

func TestPageImagePrompt(t *testing.T) {
	if got := PageImagePrompt("A mouse in a kitchen", "watercolor"); got != "A mouse in a kitchen. Visual theme: watercolor" {
		t.Errorf("PageImagePrompt = %q", got)
	}
}

func TestRequests(t *testing.T) {
	style := StyleDirective()
	if s := StoryInstruction("A brave mouse", 3); !strings.Contains(s, "exactly 3 pages") {
		t.Errorf("story instruction missing page count: %s", s)
	}
	d := model.StoryDraft{Title: "T", Genre: "G", Pages: []model.PageDraft{
		{Characters: []string{"A", "B"}}, {Characters: []string{"B", "C"}},
	}}
	if s := CoverPromptRequest(d, style); !strings.Contains(s, "Main Characters: A, B, C") {
		t.Errorf("cover request characters not deduplicated: %s", s)
	}
	p := model.PageDraft{Title: "Soup", Content: "Stir", Characters: []string{"A"}, Setting: "kitchen", Mood: "calm"}
	if s := PagePromptRequest(p, style); !strings.Contains(s, "Setting: kitchen") || !strings.Contains(s, style) {
		t.Errorf("page request incomplete: %s", s)
	}
}
