// Package imagegen turns a finished prompt into image bytes, falling back from a
// primary model to a secondary one when the primary fails.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"storybook/internal/model"
)

// Request is a single image generation request.
type Request struct {
	Prompt string
	Size   string // e.g. "1024x1024"
}

// Image is raw image bytes and their MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI encodes the image for direct embedding in the returned document.
func (img *Image) DataURI() string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ImageModel is one backend/model pair able to render a prompt.
type ImageModel interface {
	GenerateImage(ctx context.Context, req Request) (*Image, error)
	Name() string
}

// Synthesizer calls Primary and, only if that fails, Secondary once.
type Synthesizer struct {
	primary   ImageModel
	secondary ImageModel
	size      string
	limiter   *rate.Limiter
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithSecondary sets the fallback model.
func WithSecondary(m ImageModel) Option {
	return func(s *Synthesizer) { s.secondary = m }
}

// WithSize sets the target resolution used when a request carries none.
func WithSize(size string) Option {
	return func(s *Synthesizer) {
		if size != "" {
			s.size = size
		}
	}
}

// WithMinInterval paces outbound calls; zero disables pacing.
func WithMinInterval(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// NewSynthesizer builds a Synthesizer around a primary model.
func NewSynthesizer(primary ImageModel, opts ...Option) *Synthesizer {
	s := &Synthesizer{primary: primary, size: "1024x1024"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Generate renders prompt with the primary model and falls back to the secondary.
// A quota failure on both is reported as quota so callers can ask for another key.
func (s *Synthesizer) Generate(ctx context.Context, prompt string) (*Image, error) {
	const op = "imagegen.Generate"
	if s.primary == nil {
		return nil, model.ImageError(op, "no image model configured", nil)
	}
	req := Request{Prompt: prompt, Size: s.size}

	img, err := s.call(ctx, s.primary, req)
	if err == nil {
		return img, nil
	}
	if s.secondary == nil {
		return nil, wrap(op, err)
	}
	logrus.WithFields(logrus.Fields{
		"primary":  s.primary.Name(),
		"fallback": s.secondary.Name(),
	}).WithError(err).Warn("primary image model failed, trying fallback")

	img, err2 := s.call(ctx, s.secondary, req)
	if err2 == nil {
		return img, nil
	}
	if model.IsQuota(err) && model.IsQuota(err2) {
		return nil, err2
	}
	return nil, model.ImageError(op, "image generation failed", errors.Join(err, err2))
}

func (s *Synthesizer) call(ctx context.Context, m ImageModel, req Request) (*Image, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	img, err := m.GenerateImage(ctx, req)
	if err != nil {
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, model.ImageError(m.Name(), "no image returned", nil)
	}
	return img, nil
}

// wrap keeps quota classification visible while tagging everything else as an image failure.
func wrap(op string, err error) error {
	if model.IsQuota(err) {
		return err
	}
	return model.ImageError(op, "image generation failed", err)
}
