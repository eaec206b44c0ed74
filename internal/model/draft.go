package model

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidateRequest checks the caller-supplied fields and applies the default page count.
func ValidateRequest(req StoryRequest, defaultPages, maxPages int) (StoryRequest, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return req, ValidationError("Prompt is required")
	}
	if req.PageCount == 0 {
		req.PageCount = defaultPages
	}
	if req.PageCount < 1 || req.PageCount > maxPages {
		return req, ValidationError(fmt.Sprintf("pageCount must be between 1 and %d", maxPages))
	}
	return req, nil
}

// NormalizeDraft validates a freshly generated draft against the requested page count.
// Extra pages are truncated, a short story is kept as is, and page numbers are
// rewritten to their 1-based position.
func NormalizeDraft(d StoryDraft, requested int) (StoryDraft, error) {
	const op = "model.NormalizeDraft"
	if strings.TrimSpace(d.Title) == "" {
		return d, GenerationError(op, "story has no title", nil)
	}
	if len(d.Pages) == 0 {
		return d, GenerationError(op, "story has no pages", nil)
	}
	if requested > 0 && len(d.Pages) > requested {
		logrus.WithFields(logrus.Fields{"requested": requested, "returned": len(d.Pages)}).
			Warn("model returned more pages than requested, truncating")
		d.Pages = d.Pages[:requested]
	} else if len(d.Pages) < requested {
		logrus.WithFields(logrus.Fields{"requested": requested, "returned": len(d.Pages)}).
			Warn("model returned fewer pages than requested")
	}

	pages := make([]PageDraft, len(d.Pages))
	for i, p := range d.Pages {
		if strings.TrimSpace(p.Content) == "" {
			return d, GenerationError(op, fmt.Sprintf("page %d has no content", i+1), nil)
		}
		chars := make([]string, 0, len(p.Characters))
		for _, c := range p.Characters {
			if c = strings.TrimSpace(c); c != "" {
				chars = append(chars, c)
			}
		}
		if len(chars) == 0 {
			return d, GenerationError(op, fmt.Sprintf("page %d has no characters", i+1), nil)
		}
		p.Characters = chars
		p.PageNumber = i + 1
		pages[i] = p
	}
	d.Pages = pages
	return d, nil
}
