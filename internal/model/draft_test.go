package model

import (
	"errors"
	"fmt"
	"testing"
)

func sampleDraft(n int) StoryDraft {
	d := StoryDraft{Title: "The Mouse Chef", Genre: "adventure", TargetAge: "4-8"}
	for i := 0; i < n; i++ {
		d.Pages = append(d.Pages, PageDraft{
			PageNumber: 10 + i,
			Title:      "Page",
			Content:    "Remy stirs the soup.",
			Characters: []string{" Remy ", ""},
			Setting:    "kitchen",
			Mood:       "cozy",
		})
	}
	return d
}

func TestValidateRequest(t *testing.T) {
	if _, err := ValidateRequest(StoryRequest{Prompt: "  "}, 5, 12); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for empty prompt, got %v", err)
	}
	req, err := ValidateRequest(StoryRequest{Prompt: "a mouse"}, 5, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.PageCount != 5 {
		t.Errorf("default page count = %d, want 5", req.PageCount)
	}
	if _, err := ValidateRequest(StoryRequest{Prompt: "a mouse", PageCount: 13}, 5, 12); KindOf(err) != KindValidation {
		t.Errorf("expected validation error for too many pages, got %v", err)
	}
	if _, err := ValidateRequest(StoryRequest{Prompt: "a mouse", PageCount: -1}, 5, 12); KindOf(err) != KindValidation {
		t.Errorf("expected validation error for negative pages, got %v", err)
	}
}

func TestNormalizeDraft_Truncates(t *testing.T) {
	d, err := NormalizeDraft(sampleDraft(5), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(d.Pages))
	}
	for i, p := range d.Pages {
		if p.PageNumber != i+1 {
			t.Errorf("page %d numbered %d", i, p.PageNumber)
		}
		if len(p.Characters) != 1 || p.Characters[0] != "Remy" {
			t.Errorf("characters not cleaned: %q", p.Characters)
		}
	}
}

func TestNormalizeDraft_KeepsShortStory(t *testing.T) {
	d, err := NormalizeDraft(sampleDraft(2), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Pages) != 2 {
		t.Errorf("pages = %d, want 2", len(d.Pages))
	}
}

func TestNormalizeDraft_Rejects(t *testing.T) {
	noChars := sampleDraft(1)
	noChars.Pages[0].Characters = nil
	noContent := sampleDraft(1)
	noContent.Pages[0].Content = " "
	noTitle := sampleDraft(1)
	noTitle.Title = ""

	cases := map[string]StoryDraft{
		"no pages":      sampleDraft(0),
		"no characters": noChars,
		"no content":    noContent,
		"no title":      noTitle,
	}
	for name, d := range cases {
		if _, err := NormalizeDraft(d, 1); KindOf(err) != KindGeneration {
			t.Errorf("%s: expected generation error, got %v", name, err)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("429 Too Many Requests")
	err := fmt.Errorf("handler: %w", QuotaError("gemini.GenerateImage", base))
	if !IsQuota(err) {
		t.Fatalf("wrapped quota error not detected: %v", err)
	}
	if !errors.Is(err, base) {
		t.Errorf("quota error does not unwrap to its cause")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Errorf("plain error should be unknown")
	}
}
