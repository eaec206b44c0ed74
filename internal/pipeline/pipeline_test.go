package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storybook/internal/imagegen"
	"storybook/internal/model"
	"storybook/internal/placeholder"
	"storybook/internal/prompt"
	"storybook/internal/retry"
)

type MockStoryGenerator struct {
	GenerateStoryFunc func(ctx context.Context, userPrompt string, pageCount int) (model.StoryDraft, error)
}

func (m *MockStoryGenerator) GenerateStory(ctx context.Context, userPrompt string, pageCount int) (model.StoryDraft, error) {
	return m.GenerateStoryFunc(ctx, userPrompt, pageCount)
}

type MockTextGenerator struct {
	GenerateTextFunc func(ctx context.Context, instruction string) (string, error)
}

func (m *MockTextGenerator) GenerateText(ctx context.Context, instruction string) (string, error) {
	return m.GenerateTextFunc(ctx, instruction)
}

type MockSynthesizer struct {
	GenerateFunc func(ctx context.Context, prompt string) (*imagegen.Image, error)
	calls        atomic.Int32
}

func (m *MockSynthesizer) Generate(ctx context.Context, prompt string) (*imagegen.Image, error) {
	m.calls.Add(1)
	return m.GenerateFunc(ctx, prompt)
}

func mouseStory(_ context.Context, _ string, pageCount int) (model.StoryDraft, error) {
	d := model.StoryDraft{Title: "The Little Chef", Genre: "adventure", TargetAge: "4-8"}
	for i := 1; i <= pageCount; i++ {
		d.Pages = append(d.Pages, model.PageDraft{
			PageNumber: i,
			Title:      fmt.Sprintf("Page %d", i),
			Content:    "Remy dreams of cooking.",
			Characters: []string{"Remy"},
			Setting:    "Paris kitchen",
			Mood:       "hopeful",
		})
	}
	return d, nil
}

func echoText(_ context.Context, instruction string) (string, error) {
	line := strings.SplitN(instruction, "Title: ", 2)
	if len(line) < 2 {
		return "scene", nil
	}
	return "scene for " + strings.SplitN(line[1], "\n", 2)[0], nil
}

func testConfig() Config {
	return Config{
		Concurrency:       3,
		Retry:             retry.Policy{Attempts: 2, BaseDelay: time.Millisecond},
		RefineCoverPrompt: true,
		CoverEnabled:      true,
	}
}

func request(pages int) model.StoryRequest {
	return model.StoryRequest{Prompt: "A brave little mouse who dreams of becoming a chef", PageCount: pages}
}

func TestRun_HappyPath(t *testing.T) {
	var mu sync.Mutex
	var states []State
	o := New(testConfig())
	o.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	images := &MockSynthesizer{GenerateFunc: func(_ context.Context, p string) (*imagegen.Image, error) {
		return &imagegen.Image{Data: []byte(p), MIMEType: "image/png"}, nil
	}}
	b := Bindings{
		Story:  &MockStoryGenerator{GenerateStoryFunc: mouseStory},
		Text:   &MockTextGenerator{GenerateTextFunc: echoText},
		Images: images,
	}

	res, err := o.Run(context.Background(), b, request(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(res.Pages))
	}
	if !strings.HasPrefix(res.CoverImageURL, "data:image/png;base64,") {
		t.Errorf("cover = %.40s", res.CoverImageURL)
	}
	style := prompt.StyleDirective()
	for i, p := range res.Pages {
		if p.PageNumber != i+1 {
			t.Errorf("page %d has number %d", i, p.PageNumber)
		}
		want := prompt.PageImagePrompt(fmt.Sprintf("scene for Page %d", i+1), style)
		if p.ImagePrompt != want {
			t.Errorf("page %d prompt = %q", i, p.ImagePrompt)
		}
		if !strings.HasPrefix(p.ImageURL, "data:image/png;base64,") {
			t.Errorf("page %d image = %.40s", i, p.ImageURL)
		}
		if len(p.Characters) == 0 {
			t.Errorf("page %d has no characters", i)
		}
	}
	wantStates := []State{StateComposingStory, StateRenderingCover, StateRenderingPages, StateDone}
	if fmt.Sprint(states) != fmt.Sprint(wantStates) {
		t.Errorf("states = %v, want %v", states, wantStates)
	}
	if got := images.calls.Load(); got != 4 {
		t.Errorf("image calls = %d, want 4", got)
	}
}

func TestRun_AllImagesFail(t *testing.T) {
	images := &MockSynthesizer{GenerateFunc: func(context.Context, string) (*imagegen.Image, error) {
		return nil, model.QuotaError("mock", errors.New("429"))
	}}
	b := Bindings{
		Story:  &MockStoryGenerator{GenerateStoryFunc: mouseStory},
		Text:   &MockTextGenerator{GenerateTextFunc: echoText},
		Images: images,
	}

	res, err := New(testConfig()).Run(context.Background(), b, request(3))
	if err != nil {
		t.Fatalf("image failures must not be fatal: %v", err)
	}
	wantCover := placeholder.DataURI("The Little Chef")
	if res.CoverImageURL != wantCover {
		t.Errorf("cover should be the title placeholder")
	}
	for i, p := range res.Pages {
		if p.ImageURL != wantCover {
			t.Errorf("page %d should reuse the cover", i)
		}
		if p.ImagePrompt != prompt.FallbackCoverMarker {
			t.Errorf("page %d marker = %q", i, p.ImagePrompt)
		}
	}
	// cover + 3 pages, each retried twice
	if got := images.calls.Load(); got != 8 {
		t.Errorf("image calls = %d, want 8", got)
	}
}

func TestRun_NoCoverUsesPagePlaceholder(t *testing.T) {
	cfg := testConfig()
	cfg.CoverEnabled = false
	b := Bindings{
		Story: &MockStoryGenerator{GenerateStoryFunc: mouseStory},
		Text: &MockTextGenerator{GenerateTextFunc: func(context.Context, string) (string, error) {
			return "", errors.New("llm down")
		}},
		Images: &MockSynthesizer{GenerateFunc: func(context.Context, string) (*imagegen.Image, error) {
			t.Error("image model should not be called without a page prompt")
			return nil, errors.New("unreachable")
		}},
	}

	res, err := New(cfg).Run(context.Background(), b, request(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CoverImageURL != "" {
		t.Errorf("cover should be absent")
	}
	for i, p := range res.Pages {
		if p.ImageURL != placeholder.DataURI(p.Title) {
			t.Errorf("page %d should use its own placeholder", i)
		}
		if p.ImagePrompt != prompt.FallbackPlaceholderMarker {
			t.Errorf("page %d marker = %q", i, p.ImagePrompt)
		}
	}
}

func TestRun_StoryFailureIsFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"plain", errors.New("connection reset")},
		{"quota", model.QuotaError("gemini.GenerateStory", errors.New("Error 429, RESOURCE_EXHAUSTED"))},
		{"upstream", model.UpstreamError("volc.GenerateStory", errors.New("502"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			images := &MockSynthesizer{GenerateFunc: func(context.Context, string) (*imagegen.Image, error) {
				t.Error("no image work should start after a story failure")
				return nil, nil
			}}
			b := Bindings{
				Story: &MockStoryGenerator{GenerateStoryFunc: func(context.Context, string, int) (model.StoryDraft, error) {
					return model.StoryDraft{}, tc.err
				}},
				Text:   &MockTextGenerator{GenerateTextFunc: echoText},
				Images: images,
			}

			res, err := New(testConfig()).Run(context.Background(), b, request(3))
			if err == nil || res != nil {
				t.Fatalf("expected fatal error and no result, got %v / %v", res, err)
			}
			if model.KindOf(err) != model.KindUpstream {
				t.Errorf("kind = %v, want upstream", model.KindOf(err))
			}
			if model.IsQuota(err) {
				t.Error("story failure must not surface as quota")
			}
		})
	}
}

func TestRun_InvalidDraftIsGenerationError(t *testing.T) {
	b := Bindings{
		Story: &MockStoryGenerator{GenerateStoryFunc: func(context.Context, string, int) (model.StoryDraft, error) {
			return model.StoryDraft{Title: "Empty"}, nil
		}},
		Text:   &MockTextGenerator{GenerateTextFunc: echoText},
		Images: &MockSynthesizer{},
	}
	if _, err := New(testConfig()).Run(context.Background(), b, request(3)); model.KindOf(err) != model.KindGeneration {
		t.Errorf("kind = %v, want generation", model.KindOf(err))
	}
}

func TestRun_TruncatesExtraPages(t *testing.T) {
	b := Bindings{
		Story: &MockStoryGenerator{GenerateStoryFunc: func(ctx context.Context, p string, _ int) (model.StoryDraft, error) {
			return mouseStory(ctx, p, 6)
		}},
		Text: &MockTextGenerator{GenerateTextFunc: echoText},
		Images: &MockSynthesizer{GenerateFunc: func(context.Context, string) (*imagegen.Image, error) {
			return &imagegen.Image{Data: []byte("x")}, nil
		}},
	}
	res, err := New(testConfig()).Run(context.Background(), b, request(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Pages) != 4 {
		t.Errorf("pages = %d, want 4", len(res.Pages))
	}
}

func TestRun_PageOrderUnderReordering(t *testing.T) {
	b := Bindings{
		Story: &MockStoryGenerator{GenerateStoryFunc: mouseStory},
		Text:  &MockTextGenerator{GenerateTextFunc: echoText},
		Images: &MockSynthesizer{GenerateFunc: func(_ context.Context, p string) (*imagegen.Image, error) {
			// earlier pages finish last
			for i := 1; i <= 6; i++ {
				if strings.Contains(p, fmt.Sprintf("Page %d.", i)) {
					time.Sleep(time.Duration(7-i) * 3 * time.Millisecond)
				}
			}
			return &imagegen.Image{Data: []byte(p)}, nil
		}},
	}
	res, err := New(testConfig()).Run(context.Background(), b, request(6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range res.Pages {
		if !strings.Contains(p.ImagePrompt, fmt.Sprintf("scene for Page %d.", i+1)) {
			t.Errorf("page %d carries prompt %q", i, p.ImagePrompt)
		}
	}
}

func TestRun_CoverRefinementFallsBackToBrief(t *testing.T) {
	var coverPrompt string
	var once sync.Once
	b := Bindings{
		Story: &MockStoryGenerator{GenerateStoryFunc: mouseStory},
		Text: &MockTextGenerator{GenerateTextFunc: func(ctx context.Context, instruction string) (string, error) {
			if strings.Contains(instruction, "cover image prompt") {
				return "", errors.New("llm busy")
			}
			return echoText(ctx, instruction)
		}},
		Images: &MockSynthesizer{GenerateFunc: func(_ context.Context, p string) (*imagegen.Image, error) {
			once.Do(func() { coverPrompt = p })
			return &imagegen.Image{Data: []byte("x")}, nil
		}},
	}
	if _, err := New(testConfig()).Run(context.Background(), b, request(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := prompt.CoverPrompt("The Little Chef", "adventure", []string{"Remy"}, prompt.StyleDirective())
	if coverPrompt != want {
		t.Errorf("cover prompt = %q, want brief %q", coverPrompt, want)
	}
}
