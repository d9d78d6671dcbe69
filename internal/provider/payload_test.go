package provider

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/salephoto/genflow-core/internal/fault"
)

// tinyPNG is a minimal valid PNG header, enough for content-type sniffing.
var tinyPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func validStyleJSON() string {
	return `{"product_name":"Mug","styles":[` +
		`{"style_name":"Lifestyle","prompt":"p1"},` +
		`{"style_name":"Studio","prompt":"p2"},` +
		`{"style_name":"Interior","prompt":"p3"},` +
		`{"style_name":"Creative","prompt":"p4"}]}`
}

func chatBody(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return b
}

func TestBuildPromptPayload(t *testing.T) {
	body, err := BuildPromptPayload("test-model", "ceramic mug", "1:1", false)
	if err != nil {
		t.Fatalf("BuildPromptPayload: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if req["model"] != "test-model" {
		t.Errorf("model = %v", req["model"])
	}
	if req["temperature"] != 0.7 {
		t.Errorf("temperature = %v, want 0.7", req["temperature"])
	}
	rf, _ := req["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", req["response_format"])
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	if !strings.Contains(user["content"].(string), "ceramic mug") {
		t.Error("user message should carry the product description")
	}
}

func TestBuildPromptPayload_RandomStyles(t *testing.T) {
	body, err := BuildPromptPayload("m", "mug", "1:1", true)
	if err != nil {
		t.Fatalf("BuildPromptPayload: %v", err)
	}

	var req map[string]any
	json.Unmarshal(body, &req)
	if req["temperature"] != 0.9 {
		t.Errorf("temperature = %v, want 0.9 for random styles", req["temperature"])
	}
	msgs := req["messages"].([]any)
	system := msgs[0].(map[string]any)["content"].(string)
	if !strings.Contains(system, "RANDOM") {
		t.Error("random mode should use the random-style system prompt")
	}
}

func TestParseStyleSet_Valid(t *testing.T) {
	set, err := ParseStyleSet(chatBody(validStyleJSON()))
	if err != nil {
		t.Fatalf("ParseStyleSet: %v", err)
	}
	if set.ProductName != "Mug" {
		t.Errorf("ProductName = %q", set.ProductName)
	}
	if len(set.Styles) != StyleCount {
		t.Fatalf("got %d styles, want %d", len(set.Styles), StyleCount)
	}
	if set.Styles[1].StyleName != "Studio" || set.Styles[1].Prompt != "p2" {
		t.Errorf("styles[1] = %+v", set.Styles[1])
	}
}

func TestParseStyleSet_CodeFence(t *testing.T) {
	fenced := "```json\n" + validStyleJSON() + "\n```"
	set, err := ParseStyleSet(chatBody(fenced))
	if err != nil {
		t.Fatalf("ParseStyleSet with code fence: %v", err)
	}
	if set.ProductName != "Mug" {
		t.Errorf("ProductName = %q", set.ProductName)
	}
}

func TestParseStyleSet_MalformedIsTransient(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("garbage")},
		{"no choices", []byte(`{"choices":[]}`)},
		{"content not json", chatBody("I'm sorry, I can't do that")},
		{"wrong style count", chatBody(`{"product_name":"Mug","styles":[{"style_name":"a","prompt":"b"}]}`)},
		{"empty prompt", chatBody(`{"product_name":"Mug","styles":[` +
			`{"style_name":"a","prompt":""},{"style_name":"b","prompt":"x"},` +
			`{"style_name":"c","prompt":"x"},{"style_name":"d","prompt":"x"}]}`)},
	}
	for _, c := range cases {
		_, err := ParseStyleSet(c.body)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if fault.KindOf(err) != fault.KindTransient {
			t.Errorf("%s: kind = %v, want transient", c.name, fault.KindOf(err))
		}
	}
}

func TestBuildImagePayload(t *testing.T) {
	body, err := BuildImagePayload("img-model", "on a wooden table", tinyPNG, "4:5")
	if err != nil {
		t.Fatalf("BuildImagePayload: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	mods, _ := req["modalities"].([]any)
	if len(mods) != 2 || mods[1] != "image" {
		t.Errorf("modalities = %v", req["modalities"])
	}
	ic, _ := req["image_config"].(map[string]any)
	if ic["aspect_ratio"] != "4:5" {
		t.Errorf("image_config = %v", req["image_config"])
	}

	msgs := req["messages"].([]any)
	parts := msgs[1].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	url := img["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image URL prefix = %q", url[:min(len(url), 30)])
	}
}

func TestBuildImagePayload_BadReference(t *testing.T) {
	if _, err := BuildImagePayload("m", "p", nil, "1:1"); fault.KindOf(err) != fault.KindPermanent {
		t.Errorf("empty reference: kind = %v, want permanent", fault.KindOf(err))
	}
	if _, err := BuildImagePayload("m", "p", []byte("just some text content here"), "1:1"); fault.KindOf(err) != fault.KindPermanent {
		t.Errorf("non-image reference: kind = %v, want permanent", fault.KindOf(err))
	}
}

func TestParseImage_Valid(t *testing.T) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(tinyPNG)
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{
				"content": "",
				"images": []map[string]any{
					{"image_url": map[string]string{"url": dataURL}},
				},
			}},
		},
	})

	img, err := ParseImage(body)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if string(img) != string(tinyPNG) {
		t.Error("decoded image does not match original bytes")
	}
}

func TestParseImage_DeclinedIsPermanent(t *testing.T) {
	_, err := ParseImage(chatBody("I cannot generate images of this product"))
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.KindPermanent {
		t.Errorf("kind = %v, want permanent", fault.KindOf(err))
	}
	if !strings.Contains(err.Error(), "declined") {
		t.Errorf("error should mention the decline: %v", err)
	}
}

func TestParseImage_MalformedIsTransient(t *testing.T) {
	badURL, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{
				"images": []map[string]any{
					{"image_url": map[string]string{"url": "data:image/png;base64,%%%not-base64%%%"}},
				},
			}},
		},
	})

	cases := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("garbage")},
		{"no choices", []byte(`{"choices":[]}`)},
		{"bad base64", badURL},
	}
	for _, c := range cases {
		_, err := ParseImage(c.body)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if fault.KindOf(err) != fault.KindTransient {
			t.Errorf("%s: kind = %v, want transient", c.name, fault.KindOf(err))
		}
	}
}
