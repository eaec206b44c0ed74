package client

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"storybook/internal/model"
	"storybook/internal/prompt"
)

// CancelToken 协作式取消标记, 只在两页之间检查
type CancelToken struct {
	cancelled atomic.Bool
}

func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

func (t *CancelToken) Cancelled() bool { return t != nil && t.cancelled.Load() }

// Progress 逐页插图结果
type Progress struct {
	Illustrated int
	Failed      int
	Stopped     bool // cancelled or quota exhausted before the last page
}

// ImageGenerator is satisfied by *Client.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, apiKey string) (string, error)
}

// IllustrateSequential renders pages one at a time, in order, writing each page's imageUrl in place.
// The token is checked before every page; a page already started is allowed to finish.
// A quota error stops the loop and is returned; other failures leave the page as is and continue.
func IllustrateSequential(ctx context.Context, g ImageGenerator, story *model.StoryResult, apiKey string, token *CancelToken, onPage func(i int, page model.PageResult)) (Progress, error) {
	var p Progress
	style := prompt.StyleDirective()
	for i := range story.Pages {
		if token.Cancelled() {
			logrus.WithField("page", i+1).Info("illustration stopped by user")
			p.Stopped = true
			return p, nil
		}
		page := &story.Pages[i]
		log := logrus.WithField("page", page.PageNumber)

		text := pagePrompt(*page, style)
		url, err := g.GenerateImage(ctx, text, apiKey)
		if err != nil {
			p.Failed++
			if model.IsQuota(err) {
				log.WithError(err).Warn("quota exceeded, stopping")
				p.Stopped = true
				return p, err
			}
			log.WithError(err).Warn("page illustration failed")
			continue
		}
		page.ImageURL = url
		page.ImagePrompt = text
		p.Illustrated++
		if onPage != nil {
			onPage(i, *page)
		}
	}
	return p, nil
}

// pagePrompt reuses the server's prompt unless it is a fallback marker.
func pagePrompt(page model.PageResult, style string) string {
	switch page.ImagePrompt {
	case "", prompt.FallbackCoverMarker, prompt.FallbackPlaceholderMarker:
	default:
		return page.ImagePrompt
	}
	return prompt.PageImagePrompt(page.Title+". "+page.Content, style)
}
