package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"storybook/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want model.Kind
	}{
		{"api 429", genai.APIError{Code: 429, Message: "Too Many Requests"}, model.KindQuota},
		{"resource exhausted", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, model.KindQuota},
		{"wrapped api 429", fmt.Errorf("call: %w", genai.APIError{Code: 429}), model.KindQuota},
		{"quota message", errors.New("You exceeded your current quota"), model.KindQuota},
		{"auth", genai.APIError{Code: 401, Status: "UNAUTHENTICATED"}, model.KindUpstream},
		{"network", errors.New("dial tcp: connection refused"), model.KindUpstream},
		{"cancelled", context.Canceled, model.KindUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := model.KindOf(classify("test", tc.err)); got != tc.want {
				t.Errorf("kind = %v, want %v", got, tc.want)
			}
		})
	}
	if classify("test", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestDecodeDraft(t *testing.T) {
	text := `{"title":"Chef Mouse","genre":"adventure","targetAge":"4-8","pages":[
		{"pageNumber":1,"title":"Dream","content":"Remy dreams.","characters":["Remy"],"setting":"attic","mood":"hopeful"}]}`
	d, err := decodeDraft("test", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Title != "Chef Mouse" || len(d.Pages) != 1 || d.Pages[0].Characters[0] != "Remy" {
		t.Errorf("decoded draft = %+v", d)
	}

	for _, bad := range []string{"", "  ", "not json", `{"title": 5}`} {
		if _, err := decodeDraft("test", bad); model.KindOf(err) != model.KindGeneration {
			t.Errorf("decodeDraft(%q) kind = %v, want generation", bad, model.KindOf(err))
		}
	}
}

func TestStorySchema(t *testing.T) {
	s := storySchema()
	if s.Type != genai.TypeObject {
		t.Fatalf("schema type = %v", s.Type)
	}
	pages := s.Properties["pages"]
	if pages == nil || pages.Items == nil {
		t.Fatal("pages schema missing")
	}
	for _, f := range []string{"pageNumber", "title", "content", "characters", "setting", "mood"} {
		if pages.Items.Properties[f] == nil {
			t.Errorf("page schema missing %s", f)
		}
	}
}

func TestFirstImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []*genai.Part{{Text: "here you go"}}}},
		{Content: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: []byte("first"), MIMEType: "image/png"}},
			{InlineData: &genai.Blob{Data: []byte("second"), MIMEType: "image/png"}},
		}}},
	}}
	img := firstImage(resp)
	if img == nil || string(img.Data) != "first" || img.MIMEType != "image/png" {
		t.Errorf("firstImage = %+v", img)
	}
	if firstImage(&genai.GenerateContentResponse{}) != nil {
		t.Error("expected nil for empty response")
	}
	if firstImage(nil) != nil {
		t.Error("expected nil for nil response")
	}
}

func TestImageSize(t *testing.T) {
	for in, want := range map[string]string{"1024x1024": "1K", "": "1K", "2048x2048": "2K", "4K": "4K"} {
		if got := imageSize(in); got != want {
			t.Errorf("imageSize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), "", nil); model.KindOf(err) != model.KindCredential {
		t.Errorf("kind = %v, want credential", model.KindOf(err))
	}
}
