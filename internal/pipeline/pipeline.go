// Package pipeline sequences story composition, cover rendering and page
// rendering into one StoryResult.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"storybook/internal/imagegen"
	"storybook/internal/model"
	"storybook/internal/placeholder"
	"storybook/internal/prompt"
	"storybook/internal/retry"
	"storybook/internal/runner"
)

// StoryGenerator produces a structured draft in a single attempt.
type StoryGenerator interface {
	GenerateStory(ctx context.Context, userPrompt string, pageCount int) (model.StoryDraft, error)
}

// TextGenerator returns free text for an instruction.
type TextGenerator interface {
	GenerateText(ctx context.Context, instruction string) (string, error)
}

// ImageSynthesizer renders a finished image prompt.
type ImageSynthesizer interface {
	Generate(ctx context.Context, prompt string) (*imagegen.Image, error)
}

// Bindings are the provider implementations used for one request.
type Bindings struct {
	Story  StoryGenerator
	Text   TextGenerator
	Images ImageSynthesizer
}

// State is a stage of the orchestrator.
type State string

const (
	StateComposingStory State = "COMPOSING_STORY"
	StateRenderingCover State = "RENDERING_COVER"
	StateRenderingPages State = "RENDERING_PAGES"
	StateDone           State = "DONE"
)

// Config tunes the orchestrator.
type Config struct {
	Concurrency       int
	Retry             retry.Policy
	RefineCoverPrompt bool
	CoverEnabled      bool
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       3,
		Retry:             retry.DefaultPolicy(),
		RefineCoverPrompt: true,
		CoverEnabled:      true,
	}
}

// Orchestrator runs the story pipeline. It keeps no per-request state.
type Orchestrator struct {
	cfg   Config
	style string

	// OnState, if set, observes every state transition.
	OnState func(State)
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{cfg: cfg, style: prompt.StyleDirective()}
}

func (o *Orchestrator) enter(log *logrus.Entry, s State) {
	log.WithField("stage", s).Info("pipeline stage")
	if o.OnState != nil {
		o.OnState(s)
	}
}

// Run executes the pipeline. Only a story composition failure is returned as an
// error; image failures always resolve to the cover or a placeholder.
func (o *Orchestrator) Run(ctx context.Context, b Bindings, req model.StoryRequest) (*model.StoryResult, error) {
	log := logrus.WithField("page_count", req.PageCount)

	o.enter(log, StateComposingStory)
	draft, err := o.composeStory(ctx, b, req)
	if err != nil {
		log.WithError(err).Error("story composition failed")
		return nil, err
	}
	log = log.WithField("title", draft.Title)
	log.WithField("pages", len(draft.Pages)).Info("story generated")

	var coverURL string
	if o.cfg.CoverEnabled {
		o.enter(log, StateRenderingCover)
		coverURL = o.renderCover(ctx, b, draft)
	}

	o.enter(log, StateRenderingPages)
	pages, err := o.renderPages(ctx, b, draft.Pages, coverURL)
	if err != nil {
		return nil, err
	}

	o.enter(log, StateDone)
	return &model.StoryResult{
		Title:         draft.Title,
		Genre:         draft.Genre,
		TargetAge:     draft.TargetAge,
		Pages:         pages,
		CoverImageURL: coverURL,
	}, nil
}

func (o *Orchestrator) composeStory(ctx context.Context, b Bindings, req model.StoryRequest) (model.StoryDraft, error) {
	draft, err := b.Story.GenerateStory(ctx, req.Prompt, req.PageCount)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindValidation, model.KindCredential, model.KindGeneration:
		default:
			// quota included: the story stage only ever fails as upstream
			err = model.UpstreamError("pipeline.composeStory", err)
		}
		return model.StoryDraft{}, err
	}
	return model.NormalizeDraft(draft, req.PageCount)
}

// renderCover always yields an image: the rendered cover or a placeholder.
func (o *Orchestrator) renderCover(ctx context.Context, b Bindings, d model.StoryDraft) string {
	imagePrompt := prompt.CoverPrompt(d.Title, d.Genre, d.Characters(), o.style)
	if o.cfg.RefineCoverPrompt && b.Text != nil {
		refined, err := b.Text.GenerateText(ctx, prompt.CoverPromptRequest(d, o.style))
		if err != nil {
			logrus.WithError(err).Warn("cover prompt refinement failed, using brief")
		} else {
			imagePrompt = prompt.PageImagePrompt(refined, o.style)
		}
	}

	img, err := retry.Do(ctx, o.cfg.Retry, "cover image", func(ctx context.Context) (*imagegen.Image, error) {
		return b.Images.Generate(ctx, imagePrompt)
	})
	if err != nil {
		logrus.WithError(err).Error("cover image failed, using placeholder")
		return placeholder.DataURI(d.Title)
	}
	logrus.Info("cover image generated")
	return img.DataURI()
}

func (o *Orchestrator) renderPages(ctx context.Context, b Bindings, pages []model.PageDraft, coverURL string) ([]model.PageResult, error) {
	factories := make([]runner.Factory[model.PageResult], len(pages))
	for i, p := range pages {
		factories[i] = func(ctx context.Context) (model.PageResult, error) {
			return o.renderPage(ctx, b, i, p, coverURL), nil
		}
	}
	return runner.Run(ctx, factories, o.cfg.Concurrency)
}

// renderPage never fails: on exhaustion the page reuses the cover or a placeholder.
func (o *Orchestrator) renderPage(ctx context.Context, b Bindings, index int, p model.PageDraft, coverURL string) model.PageResult {
	log := logrus.WithField("page", index+1)
	imagePrompt, url, err := o.illustrate(ctx, b, p)
	if err == nil {
		log.Info("page image generated")
		return model.PageResult{PageDraft: p, ImageURL: url, ImagePrompt: imagePrompt}
	}

	log.WithError(err).Error("page image failed after retries")
	if coverURL != "" {
		return model.PageResult{PageDraft: p, ImageURL: coverURL, ImagePrompt: prompt.FallbackCoverMarker}
	}
	return model.PageResult{PageDraft: p, ImageURL: placeholder.DataURI(p.Title), ImagePrompt: prompt.FallbackPlaceholderMarker}
}

func (o *Orchestrator) illustrate(ctx context.Context, b Bindings, p model.PageDraft) (string, string, error) {
	if b.Text == nil {
		return "", "", fmt.Errorf("no text generator bound")
	}
	base, err := retry.Do(ctx, o.cfg.Retry, "page prompt", func(ctx context.Context) (string, error) {
		return b.Text.GenerateText(ctx, prompt.PagePromptRequest(p, o.style))
	})
	if err != nil {
		return "", "", fmt.Errorf("page prompt: %w", err)
	}
	imagePrompt := prompt.PageImagePrompt(base, o.style)

	img, err := retry.Do(ctx, o.cfg.Retry, "page image", func(ctx context.Context) (*imagegen.Image, error) {
		return b.Images.Generate(ctx, imagePrompt)
	})
	if err != nil {
		return imagePrompt, "", fmt.Errorf("page image: %w", err)
	}
	return imagePrompt, img.DataURI(), nil
}
