// Package prompt builds every piece of text sent to the language and image models.
// All functions are pure.
package prompt

import (
	"fmt"
	"strings"

	"storybook/internal/model"
)

const styleDirective = `
	Consistent children's book watercolor illustration theme with soft pastel colors and gentle lighting;
	hand-painted feel with clean outlines; cute rounded proportions; consistent character designs across all pages
	(same clothes, colors, hair, and species); single cohesive art style throughout. Avoid text, letters,
	watermarks, signatures, frames, borders, photorealism, 3D rendering, pixelation, glitches, artifacts,
	distorted faces, extra fingers, extra limbs, or deformed anatomy.
`

// Fallback markers stored in PageResult.ImagePrompt when no image could be generated.
const (
	FallbackCoverMarker       = "[FALLBACK] Used cover image due to generation failures"
	FallbackPlaceholderMarker = "[FALLBACK] Used placeholder image due to generation failures"
)

// StyleDirective returns the fixed style text repeated in every image prompt of a book.
func StyleDirective() string {
	return strings.Join(strings.Fields(styleDirective), " ")
}

// UniqueCharacters removes exact duplicates, keeping first occurrence order.
func UniqueCharacters(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// CoverPrompt is the deterministic cover brief. It can be sent to the image model
// as is, or handed to the text model for refinement first.
func CoverPrompt(title, genre string, characters []string, style string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Children's storybook cover illustration for %q", title)
	if genre != "" {
		fmt.Fprintf(&b, ", a %s story", genre)
	}
	b.WriteString(". ")
	if chars := UniqueCharacters(characters); len(chars) > 0 {
		fmt.Fprintf(&b, "Main characters: %s, together in a welcoming scene. ", strings.Join(chars, ", "))
	}
	b.WriteString("Leave a clear area for the title but do not draw any text. Warm, inviting colors. ")
	b.WriteString("Visual theme: ")
	b.WriteString(style)
	return b.String()
}

// PageImagePrompt appends the style directive to the scene description written by the model.
func PageImagePrompt(base, style string) string {
	return base + ". Visual theme: " + style
}

// StoryInstruction is the request for the structured story.
func StoryInstruction(userPrompt string, pageCount int) string {
	return fmt.Sprintf(`Create a children's storybook based on this prompt: %q.
The story should have exactly %d pages, with each page having:
- A clear title
- 2-3 sentences of engaging content appropriate for children
- Characters involved in that scene
- Setting/location description
- Mood/atmosphere

Make it educational, fun, and age-appropriate for children aged 4-8 years.`, userPrompt, pageCount)
}

// CoverPromptRequest asks the text model to expand the cover brief.
func CoverPromptRequest(d model.StoryDraft, style string) string {
	return fmt.Sprintf(`Create a detailed cover image prompt for this children's storybook. Use a single, consistent visual theme for the entire book as specified below.

Title: %s
Genre: %s
Main Characters: %s

Generate a prompt for a beautiful, colorful children's book cover illustration.
Enforce this exact visual theme (do not deviate across pages): %s
Include:
- Main characters in a welcoming scene
- Title placement area (but don't include text)
- Warm, inviting colors
- Child-friendly artistic style with consistent character appearance
- Storybook cover composition matching the theme

Keep it concise (max 80 words).`,
		d.Title, d.Genre, strings.Join(UniqueCharacters(d.Characters()), ", "), style)
}

// PagePromptRequest asks the text model for the scene description of one page.
func PagePromptRequest(p model.PageDraft, style string) string {
	return fmt.Sprintf(`Create a detailed, child-friendly illustration prompt for this storybook page. Use a single, consistent visual theme for the entire book as specified below.

Title: %s
Content: %s
Characters: %s
Setting: %s
Mood: %s

Generate a prompt for a colorful children's book illustration that captures this scene.
Enforce this exact visual theme (do not deviate across pages): %s
Ensure character consistency (same clothing, colors, and features) and coherent proportions.
Include details about:
- The characters and their expressions
- The setting and environment
- Colors and lighting that match the mood
- Important objects or elements from the story

Keep it descriptive but concise (max 80 words).`,
		p.Title, p.Content, strings.Join(p.Characters, ", "), p.Setting, p.Mood, style)
}
