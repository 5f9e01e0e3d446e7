package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Fixed fallback pair used whenever the generation service is down, slow, or
// returns something we can't parse. Scheduling must never block on generation.
const (
	FallbackCaption  = "New set just dropped 💥💅"
	FallbackHashtags = "#NailInspo"
)

const systemPrompt = `You are a social media copywriter for a nail salon.
Return JSON with keys: caption (string), hashtags (string of up to 8 tags).
Tone: high-energy, friendly, IG style. Add one local/geo hint if provided.`

// GenerateInput describes one caption request. Brief may be empty (auto mode).
type GenerateInput struct {
	Brief      string
	Categories []string
	City       string
	Model      string
}

// GenerateOutput is the parsed model response.
type GenerateOutput struct {
	Caption  string `json:"caption"`
	Hashtags string `json:"hashtags"`
}

// Client talks to an Ollama-style /api/generate endpoint.
type Client struct {
	BaseURL      string
	DefaultModel string
	HTTP         *http.Client

	// limiter throttles generation calls so a daily pass over many clients
	// doesn't hammer the shared model host.
	limiter *rate.Limiter
}

func New(baseURL, defaultModel string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		DefaultModel: defaultModel,
		HTTP:         &http.Client{Timeout: 60 * time.Second},
		limiter:      rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate calls the generation service and parses its JSON payload.
// Callers that must not fail should use GenerateOrFallback instead.
func (c *Client) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	var out GenerateOutput

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return out, err
		}
	}

	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = c.DefaultModel
	}

	brief := strings.TrimSpace(in.Brief)
	if brief == "" {
		brief = "Create a short nail-salon promotional post."
	}
	userPrompt := fmt.Sprintf("Brief: %s\nCategories: %s\nCity: %s\nReturn JSON only.",
		brief, strings.Join(in.Categories, ", "), in.City)

	body, err := json.Marshal(generateRequest{
		Model:       model,
		Prompt:      fmt.Sprintf("<system>%s</system>\n<user>%s</user>", systemPrompt, userPrompt),
		Stream:      false,
		Temperature: 0.6,
	})
	if err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return out, fmt.Errorf("invalid generation envelope: %w", err)
	}
	if err := json.Unmarshal([]byte(gr.Response), &out); err != nil {
		return out, fmt.Errorf("invalid generation payload: %w", err)
	}
	if strings.TrimSpace(out.Caption) == "" {
		return out, fmt.Errorf("generation payload missing caption")
	}
	if strings.TrimSpace(out.Hashtags) == "" {
		out.Hashtags = FallbackHashtags
	}
	return out, nil
}

// GenerateOrFallback never fails: any error from the service (timeout,
// non-2xx, malformed JSON) yields the fixed fallback pair.
func (c *Client) GenerateOrFallback(ctx context.Context, in GenerateInput) GenerateOutput {
	out, err := c.Generate(ctx, in)
	if err != nil {
		log.Printf("[Captions] generate failed, using fallback err=%v", err)
		return GenerateOutput{Caption: FallbackCaption, Hashtags: FallbackHashtags}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
