// Package provider turns request credentials into concrete model bindings.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/patrickmn/go-cache"

	"storybook/internal/gemini"
	"storybook/internal/imagegen"
	"storybook/internal/model"
	"storybook/internal/pipeline"
	"storybook/internal/prompt"
	"storybook/internal/volc"
)

// Provider names accepted in configuration.
const (
	Gemini = "gemini"
	Ark    = "ark"
)

// Config selects and tunes the bindings.
type Config struct {
	StoryProvider string
	StoryModel    string

	ImageProvider      string
	ImagePrimaryModel  string
	ImageFallbackModel string
	ImageSize          string
	ImageMinInterval   time.Duration
	SingleImageModel   string

	ArkBaseURL  string
	ArkRegion   string
	ArkMock     bool
	HTTPTimeout time.Duration

	ClientTTL time.Duration
}

// Factory builds pipeline bindings per request and caches provider clients by key.
type Factory struct {
	cfg     Config
	clients *cache.Cache
}

// NewFactory validates provider names and returns a Factory.
func NewFactory(cfg Config) (*Factory, error) {
	for _, p := range []string{cfg.StoryProvider, cfg.ImageProvider} {
		if p != Gemini && p != Ark {
			return nil, fmt.Errorf("unknown provider %q", p)
		}
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = 30 * time.Minute
	}
	return &Factory{
		cfg:     cfg,
		clients: cache.New(cfg.ClientTTL, 2*cfg.ClientTTL),
	}, nil
}

// Describe reports the active configuration without secrets.
func (f *Factory) Describe() map[string]string {
	return map[string]string{
		"story":         f.cfg.StoryProvider,
		"image":         f.cfg.ImageProvider,
		"imagePrimary":  f.primaryModel(),
		"imageFallback": f.fallbackModel(),
	}
}

func keyFor(c model.Credentials, provider string) string {
	if provider == Ark {
		return c.ArkKey
	}
	return c.GeminiKey
}

func withKey(c model.Credentials, provider, key string) model.Credentials {
	if provider == Ark {
		c.ArkKey = key
	} else {
		c.GeminiKey = key
	}
	return c
}

// Credentials fills a missing key from the legacy single apiKey. The legacy key
// is used only when exactly one bound provider lacks a key, so a key meant for
// one provider is never sent to another.
func (f *Factory) Credentials(c model.Credentials, legacy string) model.Credentials {
	if legacy == "" {
		return c
	}
	var missing []string
	for _, p := range []string{f.cfg.StoryProvider, f.cfg.ImageProvider} {
		if keyFor(c, p) == "" && (len(missing) == 0 || missing[0] != p) {
			missing = append(missing, p)
		}
	}
	if len(missing) != 1 {
		return c
	}
	return withKey(c, missing[0], legacy)
}

// ImageCredentials binds a single key to the image provider only.
func (f *Factory) ImageCredentials(key string) model.Credentials {
	return withKey(model.Credentials{}, f.cfg.ImageProvider, key)
}

// Validate requires a key for every provider the configuration binds.
func (f *Factory) Validate(c model.Credentials) error {
	for _, p := range []string{f.cfg.StoryProvider, f.cfg.ImageProvider} {
		if keyFor(c, p) == "" {
			return model.CredentialError("API keys are required")
		}
	}
	return nil
}

// Bindings builds story, text and image bindings for one request.
func (f *Factory) Bindings(ctx context.Context, c model.Credentials) (pipeline.Bindings, error) {
	if err := f.Validate(c); err != nil {
		return pipeline.Bindings{}, err
	}
	var b pipeline.Bindings
	switch f.cfg.StoryProvider {
	case Gemini:
		gc, err := f.geminiClient(ctx, c.GeminiKey)
		if err != nil {
			return b, err
		}
		b.Story = gemini.NewStoryGenerator(gc, f.cfg.StoryModel, prompt.StoryInstruction)
		b.Text = gemini.NewTextGenerator(gc, f.cfg.StoryModel)
	case Ark:
		cm, err := f.arkChat(ctx, c.ArkKey)
		if err != nil {
			return b, err
		}
		story, err := volc.NewStoryGenerator(ctx, cm, prompt.StoryInstruction)
		if err != nil {
			return b, err
		}
		text, err := volc.NewTextGenerator(ctx, cm)
		if err != nil {
			return b, err
		}
		b.Story, b.Text = story, text
	}

	primary, secondary, err := f.imageModels(ctx, c)
	if err != nil {
		return b, err
	}
	opts := []imagegen.Option{imagegen.WithSize(f.cfg.ImageSize), imagegen.WithMinInterval(f.cfg.ImageMinInterval)}
	if secondary != nil {
		opts = append(opts, imagegen.WithSecondary(secondary))
	}
	b.Images = imagegen.NewSynthesizer(primary, opts...)
	return b, nil
}

// SingleImage returns the model behind the single-image endpoint.
func (f *Factory) SingleImage(ctx context.Context, c model.Credentials) (imagegen.ImageModel, error) {
	key := keyFor(c, f.cfg.ImageProvider)
	if key == "" {
		return nil, model.CredentialError("API key is required")
	}
	if f.cfg.ImageProvider == Ark {
		return volc.NewImageModel(f.arkClient(key), f.primaryModel()), nil
	}
	gc, err := f.geminiClient(ctx, key)
	if err != nil {
		return nil, err
	}
	return gemini.NewStreamingImageModel(gc, f.cfg.SingleImageModel), nil
}

func (f *Factory) primaryModel() string {
	if f.cfg.ImagePrimaryModel != "" {
		return f.cfg.ImagePrimaryModel
	}
	if f.cfg.ImageProvider == Ark {
		return volc.DefaultImageModel
	}
	return gemini.DefaultImageModel
}

func (f *Factory) fallbackModel() string {
	if f.cfg.ImageFallbackModel != "" {
		return f.cfg.ImageFallbackModel
	}
	if f.cfg.ImageProvider == Ark {
		return volc.DefaultFallbackImageModel
	}
	return gemini.DefaultStreamImageModel
}

func (f *Factory) imageModels(ctx context.Context, c model.Credentials) (imagegen.ImageModel, imagegen.ImageModel, error) {
	primary, fallback := f.primaryModel(), f.fallbackModel()
	if f.cfg.ImageProvider == Ark {
		ac := f.arkClient(c.ArkKey)
		var secondary imagegen.ImageModel
		if fallback != primary {
			secondary = volc.NewImageModel(ac, fallback)
		}
		return volc.NewImageModel(ac, primary), secondary, nil
	}
	gc, err := f.geminiClient(ctx, c.GeminiKey)
	if err != nil {
		return nil, nil, err
	}
	var secondary imagegen.ImageModel
	if fallback != primary {
		secondary = gemini.NewImageModel(gc, fallback)
	}
	return gemini.NewImageModel(gc, primary), secondary, nil
}

func cacheKey(provider, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return provider + ":" + hex.EncodeToString(sum[:8])
}

func (f *Factory) geminiClient(ctx context.Context, key string) (*gemini.Client, error) {
	k := cacheKey("gemini", key)
	if v, ok := f.clients.Get(k); ok {
		return v.(*gemini.Client), nil
	}
	// the client outlives this request, so it must not inherit its cancellation
	gc, err := gemini.NewClient(context.WithoutCancel(ctx), key, nil)
	if err != nil {
		return nil, err
	}
	f.clients.Set(k, gc, cache.DefaultExpiration)
	return gc, nil
}

func (f *Factory) arkClient(key string) *volc.ArkClient {
	k := cacheKey("ark-http", key)
	if v, ok := f.clients.Get(k); ok {
		return v.(*volc.ArkClient)
	}
	ac := volc.NewArkClient(key, volc.ClientConfig{BaseURL: f.cfg.ArkBaseURL, Timeout: f.cfg.HTTPTimeout, Mock: f.cfg.ArkMock})
	f.clients.Set(k, ac, cache.DefaultExpiration)
	return ac
}

func (f *Factory) arkChat(ctx context.Context, key string) (einomodel.BaseChatModel, error) {
	k := cacheKey("ark-chat", key)
	if v, ok := f.clients.Get(k); ok {
		return v.(einomodel.BaseChatModel), nil
	}
	cm, err := volc.NewChatModel(context.WithoutCancel(ctx), key, volc.ChatConfig{
		Model:   f.cfg.StoryModel,
		Region:  f.cfg.ArkRegion,
		Timeout: f.cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}
	f.clients.Set(k, cm, cache.DefaultExpiration)
	return cm, nil
}
