package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/salephoto/genflow-core/internal/fault"
)

// The two call classes speak an OpenAI-compatible chat-completions dialect:
// prompt generation returns a strict-JSON style set in the message content,
// image generation returns the rendered image in the message images list.

const styleSystemPrompt = `You are an expert in product photography and creative direction.
Analyze the product description and create 4 unique, professional prompts for
generating product photography in distinctly different styles:
1. Lifestyle / In-use  2. Studio / Clean  3. Interior / Context  4. Creative / Artistic.
Each prompt must describe composition, lighting, color palette, mood, and
technical specs, in English.
The response MUST be valid JSON: {"product_name": "...", "styles": [{"style_name": "...", "prompt": "..."}, ...4 entries...]}`

const randomStyleSystemPrompt = `You are a creative director in product photography.
Create 4 RANDOM, UNIQUE, DISTINCT styles for a product photoshoot. Vary color
schemes, angles, moods, lighting, and contexts. The response MUST be valid
JSON: {"product_name": "...", "styles": [{"style_name": "...", "prompt": "..."}, ...4 entries...]}`

const imageSystemPrompt = "You are an advanced AI photographer. " +
	"Generate a photorealistic product image based on the user's prompt and the provided reference image. " +
	"Maintain the product's identity and key features strictly. " +
	"Follow the requested style, lighting, and composition."

// StyleCount is the number of styles one prompt-generation call produces.
const StyleCount = 4

// Style is one generated photoshoot style.
type Style struct {
	StyleName string `json:"style_name"`
	Prompt    string `json:"prompt"`
}

// StyleSet is the parsed result of a prompt-generation call.
type StyleSet struct {
	ProductName string  `json:"product_name"`
	Styles      []Style `json:"styles"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Modalities     []string      `json:"modalities,omitempty"`
	ImageConfig    *imageConfig  `json:"image_config,omitempty"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspect_ratio"`
}

type respFormat struct {
	Type string `json:"type"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL imageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// BuildPromptPayload builds the prompt-generation request body for a
// product description. When random is true the model is asked for random
// creative styles instead of the four classic ones.
func BuildPromptPayload(model, productDescription, aspectRatio string, random bool) ([]byte, error) {
	system := styleSystemPrompt
	temperature := 0.7
	if random {
		system = randomStyleSystemPrompt
		temperature = 0.9
	}

	user := fmt.Sprintf("Product: %s\nAspect Ratio: %s\n\nReturn result STRICTLY in JSON format.",
		productDescription, aspectRatio)

	return json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		MaxTokens:      2000,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
}

// ParseStyleSet extracts the style set from a prompt-generation response.
// A response whose content is not the expected strict JSON is a transient
// failure: the model is nondeterministic and a retry may well produce
// valid output.
func ParseStyleSet(body []byte) (*StyleSet, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Transient("decoding prompt response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fault.Transient("prompt response has no choices", nil)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Some models wrap JSON output in a markdown code fence despite the
	// response_format hint.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var set StyleSet
	if err := json.Unmarshal([]byte(content), &set); err != nil {
		return nil, fault.Transient("prompt response content is not valid JSON", err)
	}
	if set.ProductName == "" || len(set.Styles) != StyleCount {
		return nil, fault.Transient(fmt.Sprintf("prompt response has %d styles, want %d", len(set.Styles), StyleCount), nil)
	}
	for i, s := range set.Styles {
		if s.StyleName == "" || s.Prompt == "" {
			return nil, fault.Transient(fmt.Sprintf("style %d is missing a name or prompt", i), nil)
		}
	}
	return &set, nil
}

// BuildImagePayload builds the image-generation request body: the style
// prompt plus the reference product image as a base64 data URL.
func BuildImagePayload(model, prompt string, referenceImage []byte, aspectRatio string) ([]byte, error) {
	if len(referenceImage) == 0 {
		return nil, fault.Permanent("reference image is empty", nil)
	}

	mime := http.DetectContentType(referenceImage)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fault.Permanent("reference data is not an image: "+mime, nil)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(referenceImage))
	userText := fmt.Sprintf("Generate an image of this product based on this description: %s. "+
		"Keep the product look consistent with the reference. "+
		"Maintain high quality and professional composition.", prompt)

	return json.Marshal(chatRequest{
		Model:       model,
		Modalities:  []string{"text", "image"},
		ImageConfig: &imageConfig{AspectRatio: aspectRatio},
		Messages: []chatMessage{
			{Role: "system", Content: imageSystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userText},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			}},
		},
	})
}

// ParseImage extracts the generated image bytes from an image-generation
// response. A response carrying text but no image means the model declined
// the reference (bad photo, faces, policy); that will not change on retry.
func ParseImage(body []byte) ([]byte, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fault.Transient("decoding image response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fault.Transient("image response has no choices", nil)
	}

	msg := resp.Choices[0].Message
	if len(msg.Images) == 0 {
		detail := "provider returned no image"
		if msg.Content != "" {
			detail = "provider declined generation: " + truncate([]byte(msg.Content), 200)
		}
		return nil, fault.Permanent(detail, nil)
	}

	dataURL := msg.Images[0].ImageURL.URL
	const prefix = "data:image/"
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, fault.Transient("image data URL has unexpected format", nil)
	}
	_, b64, ok := strings.Cut(dataURL, ",")
	if !ok {
		return nil, fault.Transient("image data URL has no payload", nil)
	}
	img, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fault.Transient("decoding image payload", err)
	}
	return img, nil
}
