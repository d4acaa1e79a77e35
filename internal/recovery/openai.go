// internal/recovery/openai.go

package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// htmlExcerptLimit bounds how much page markup goes into the prompt.
const htmlExcerptLimit = 6000

const mapperSystemPrompt = `You repair CSS selectors for a page-monitoring system.
Given a broken selector, what it used to extract, and the current page markup,
suggest replacement CSS selectors that would extract the same data now.
Respond with a JSON array only, no prose:
[{"selector": "...", "confidence": 0.0, "explanation": "..."}]
Confidence is your own estimate between 0 and 1. Suggest at most %d selectors.`

// OpenAIMapper proposes replacement selectors through a chat-completion
// model. Everything it returns is advisory: the engine re-parses, gates,
// and validates each suggestion before anything is adopted.
type OpenAIMapper struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  utils.Logger
}

// NewOpenAIMapper creates the LLM-backed mapper.
func NewOpenAIMapper(cfg config.OpenAIConfig) (*OpenAIMapper, error) {
	if cfg.APIKey == "" {
		return nil, utils.NewError(utils.ErrCodeConfig, "openai mapper requires an api key").Build()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIMapper{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
		logger:  utils.NewComponentLogger("openai-mapper"),
	}, nil
}

// ProposeSelectors implements SemanticMapper.
func (m *OpenAIMapper) ProposeSelectors(ctx context.Context, req MappingRequest) ([]internal.SelectorCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(mapperSystemPrompt, req.MaxCandidates)},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		Temperature: 0.1,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeMapperUnavailable, "chat completion failed").
			WithCause(err).
			WithContext("model", m.model).
			Build()
	}
	if len(resp.Choices) == 0 {
		return nil, utils.NewError(utils.ErrCodeMapperUnavailable, "chat completion returned no choices").
			WithContext("model", m.model).
			Build()
	}

	candidates := parseMapperReply(resp.Choices[0].Message.Content, req.BrokenSelector)
	m.logger.WithFields(map[string]interface{}{
		"selector":   req.BrokenSelector,
		"candidates": len(candidates),
	}).Debug("mapper proposals received")
	return candidates, nil
}

func buildPrompt(req MappingRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Broken selector: %s\n", req.BrokenSelector)
	if req.Semantics != "" {
		fmt.Fprintf(&b, "It extracted: %s\n", req.Semantics)
	}
	if req.Baseline.SampleText != "" {
		fmt.Fprintf(&b, "Last known extracted text: %q\n", req.Baseline.SampleText)
	}
	if req.Baseline.Count > 1 {
		fmt.Fprintf(&b, "It used to match %d elements.\n", req.Baseline.Count)
	}
	fmt.Fprintf(&b, "\nCurrent page markup (truncated):\n%s\n", htmlExcerpt(req.HTML))
	return b.String()
}

// htmlExcerpt keeps the prompt bounded, preferring the body over the head.
func htmlExcerpt(html string) string {
	if idx := strings.Index(html, "<body"); idx > 0 {
		html = html[idx:]
	}
	if len(html) > htmlExcerptLimit {
		html = html[:htmlExcerptLimit]
	}
	return html
}

// parseMapperReply extracts candidates from the model's reply. Malformed
// output yields no candidates rather than an error: garbage from the
// model is a degraded answer, not an outage.
func parseMapperReply(reply, brokenSelector string) []internal.SelectorCandidate {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil
	}

	var raw []struct {
		Selector    string  `json:"selector"`
		Confidence  float64 `json:"confidence"`
		Explanation string  `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil
	}

	candidates := make([]internal.SelectorCandidate, 0, len(raw))
	for _, r := range raw {
		candidates = append(candidates, internal.SelectorCandidate{
			OriginalSelector:  brokenSelector,
			CandidateSelector: r.Selector,
			Confidence:        r.Confidence,
			Explanation:       r.Explanation,
		})
	}
	return candidates
}
