package provider

import (
	"context"
	"strings"
	"testing"

	"storybook/internal/gemini"
	"storybook/internal/imagegen"
	"storybook/internal/model"
	"storybook/internal/volc"
)

func arkConfig() Config {
	return Config{StoryProvider: Ark, ImageProvider: Ark, ArkMock: true}
}

func TestNewFactory_UnknownProvider(t *testing.T) {
	if _, err := NewFactory(Config{StoryProvider: "openai", ImageProvider: Gemini}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate(t *testing.T) {
	f, err := NewFactory(Config{StoryProvider: Gemini, ImageProvider: Ark})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name  string
		creds model.Credentials
		ok    bool
	}{
		{"both", model.Credentials{GeminiKey: "g", ArkKey: "a"}, true},
		{"missing ark", model.Credentials{GeminiKey: "g"}, false},
		{"missing gemini", model.Credentials{ArkKey: "a"}, false},
		{"none", model.Credentials{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.Validate(tc.creds)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && model.KindOf(err) != model.KindCredential {
				t.Fatalf("want credential error, got %v", err)
			}
		})
	}
}

func TestBindings_GeminiCachesClient(t *testing.T) {
	f, err := NewFactory(Config{StoryProvider: Gemini, ImageProvider: Gemini})
	if err != nil {
		t.Fatal(err)
	}
	creds := model.Credentials{GeminiKey: "test-key"}
	for i := 0; i < 2; i++ {
		b, err := f.Bindings(context.Background(), creds)
		if err != nil {
			t.Fatalf("Bindings: %v", err)
		}
		if b.Story == nil || b.Text == nil || b.Images == nil {
			t.Fatalf("incomplete bindings: %+v", b)
		}
		if _, ok := b.Story.(*gemini.StoryGenerator); !ok {
			t.Fatalf("story binding = %T", b.Story)
		}
	}
	if n := f.clients.ItemCount(); n != 1 {
		t.Fatalf("cached clients = %d, want 1", n)
	}

	if _, err := f.Bindings(context.Background(), model.Credentials{GeminiKey: "other"}); err != nil {
		t.Fatal(err)
	}
	if n := f.clients.ItemCount(); n != 2 {
		t.Fatalf("cached clients = %d, want 2", n)
	}
}

func TestBindings_ArkMockRendersImage(t *testing.T) {
	f, err := NewFactory(arkConfig())
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.Bindings(context.Background(), model.Credentials{ArkKey: "k"})
	if err != nil {
		t.Fatalf("Bindings: %v", err)
	}
	if _, ok := b.Story.(*volc.StoryGenerator); !ok {
		t.Fatalf("story binding = %T", b.Story)
	}
	img, err := b.Images.Generate(context.Background(), "a fox")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(img.DataURI(), "data:image/png;base64,") {
		t.Fatalf("unexpected data uri %q", img.DataURI())
	}
}

func TestSingleImage(t *testing.T) {
	f, err := NewFactory(arkConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.SingleImage(context.Background(), model.Credentials{}); model.KindOf(err) != model.KindCredential {
		t.Fatalf("want credential error, got %v", err)
	}
	m, err := f.SingleImage(context.Background(), model.Credentials{ArkKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Name() != volc.DefaultImageModel {
		t.Fatalf("model = %q", m.Name())
	}
	img, err := m.GenerateImage(context.Background(), imagegen.Request{Prompt: "x"})
	if err != nil || len(img.Data) == 0 {
		t.Fatalf("GenerateImage: %v", err)
	}

	g, err := NewFactory(Config{StoryProvider: Gemini, ImageProvider: Gemini})
	if err != nil {
		t.Fatal(err)
	}
	m, err = g.SingleImage(context.Background(), model.Credentials{GeminiKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Name() != gemini.DefaultStreamImageModel {
		t.Fatalf("model = %q", m.Name())
	}
}

func TestDescribe(t *testing.T) {
	f, _ := NewFactory(arkConfig())
	d := f.Describe()
	if d["imagePrimary"] != volc.DefaultImageModel || d["imageFallback"] != volc.DefaultFallbackImageModel {
		t.Fatalf("describe = %v", d)
	}
}

func TestCacheKeyHidesSecret(t *testing.T) {
	k := cacheKey("gemini", "super-secret")
	if strings.Contains(k, "super-secret") {
		t.Fatalf("cache key leaks secret: %s", k)
	}
	if k != cacheKey("gemini", "super-secret") || k == cacheKey("ark", "super-secret") {
		t.Fatal("cache key not stable per provider")
	}
}

func TestCredentials_LegacyKey(t *testing.T) {
	same, _ := NewFactory(Config{StoryProvider: Gemini, ImageProvider: Gemini})
	mixed, _ := NewFactory(Config{StoryProvider: Gemini, ImageProvider: Ark})

	cases := []struct {
		name   string
		f      *Factory
		creds  model.Credentials
		legacy string
		want   model.Credentials
	}{
		{"single provider", same, model.Credentials{}, "g", model.Credentials{GeminiKey: "g"}},
		{"explicit key wins", same, model.Credentials{GeminiKey: "x"}, "g", model.Credentials{GeminiKey: "x"}},
		{"fills the one gap", mixed, model.Credentials{GeminiKey: "g"}, "a", model.Credentials{GeminiKey: "g", ArkKey: "a"}},
		{"ambiguous across providers", mixed, model.Credentials{}, "k", model.Credentials{}},
		{"no legacy", mixed, model.Credentials{ArkKey: "a"}, "", model.Credentials{ArkKey: "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.Credentials(tc.creds, tc.legacy); got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	if err := mixed.Validate(mixed.Credentials(model.Credentials{}, "k")); model.KindOf(err) != model.KindCredential {
		t.Fatalf("ambiguous legacy key should fail validation, got %v", err)
	}
	if got := mixed.ImageCredentials("a"); got != (model.Credentials{ArkKey: "a"}) {
		t.Fatalf("image credentials = %+v", got)
	}
}
