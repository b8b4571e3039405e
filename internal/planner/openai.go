package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// DefaultBaseURL is the default OpenAI API base URL.
const DefaultBaseURL = "https://api.openai.com/v1"

const systemPrompt = `You operate a web browser on behalf of a user. Given the
conversation so far, an optional page screenshot, and a list of the page's
interactive elements with their coordinates, decide what to do next.

Always answer with a single JSON object:
{
  "rationale": "why you chose this",
  "response": "a short conversational reply for the user",
  "requiresAction": true or false,
  "complete": true when the user's instruction is fully satisfied,
  "navigateUrl": "https://... (only when the page must change first)",
  "actions": [{"type": "...", "payload": {...}}]
}

When no screenshot is provided you are being asked only whether the
instruction implies navigating somewhere first; if it does, set navigateUrl
and requiresAction, and propose no other actions.

Allowed action types: navigate{url}, click{selector}, type{selector,text},
click_coordinate{x,y}, hover_coordinate{x,y}, scroll{x,y}, key_press{key},
type_text{text}, screenshot{}, get_page_elements{}. Prefer coordinate
actions aimed at element centers from the element list.`

// Provider implements Planner against any OpenAI-compatible
// chat-completions endpoint.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	logger     *logrus.Entry
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model used for planning.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the provider at an OpenAI-compatible API.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// NewProvider creates a planner backed by a vision-capable chat model.
// An empty apiKey falls back to OPENAI_API_KEY; the base URL falls back
// to OPENAI_BASE_URL.
func NewProvider(apiKey string, logger *logrus.Entry, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("planner API key is required (provide via parameter or OPENAI_API_KEY)")
	}

	p := &Provider{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      "gpt-4o",
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.baseURL == DefaultBaseURL {
		if env := os.Getenv("OPENAI_BASE_URL"); env != "" {
			p.baseURL = env
		}
	}
	return p, nil
}

// Plan sends the request to the model and parses its decision. Output
// that cannot be parsed degrades to the keyword heuristic instead of
// failing the task.
func (p *Provider) Plan(ctx context.Context, req Request) (*Decision, error) {
	content, err := p.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	decision, parseErr := ParseDecision(content)
	if parseErr != nil {
		p.logger.WithField("content_length", len(content)).
			Warn("planner response unparseable, using heuristic fallback")
		return HeuristicDecision(req.Instruction, content), nil
	}
	return decision, nil
}

func (p *Provider) complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]interface{}, 0, len(req.History)+2)
	msgs = append(msgs, openai.SystemMessage(systemPrompt))
	msgs = append(msgs, convertHistory(req.History)...)
	msgs = append(msgs, buildUserMessage(req))

	reqBody := map[string]interface{}{
		"model":      p.model,
		"messages":   msgs,
		"max_tokens": 1024,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("planner API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode planner response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("planner returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// convertHistory maps session history onto chat message params.
func convertHistory(history []models.HistoryEntry) []interface{} {
	out := make([]interface{}, 0, len(history))
	for _, entry := range history {
		switch entry.Role {
		case "system":
			out = append(out, openai.SystemMessage(entry.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(entry.Content))
		default:
			out = append(out, openai.UserMessage(entry.Content))
		}
	}
	return out
}

// buildUserMessage assembles the final user turn. Screenshots ride as
// image_url content parts so vision-capable models can see the page.
func buildUserMessage(req Request) interface{} {
	text := "Instruction: " + req.Instruction
	if len(req.Elements) > 0 {
		if elems, err := json.Marshal(req.Elements); err == nil {
			text += "\n\nInteractive elements on the current page:\n" + string(elems)
		}
	}
	if req.Screenshot == "" {
		return openai.UserMessage(text)
	}

	return map[string]interface{}{
		"role": "user",
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": text},
			map[string]interface{}{
				"type": "image_url",
				"image_url": map[string]interface{}{
					"url": "data:image/png;base64," + req.Screenshot,
				},
			},
		},
	}
}
