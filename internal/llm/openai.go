package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"veridict/internal/fetch"
	"veridict/internal/model"
)

// OpenAIClient implements all four collaborator roles against an
// OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	client  *openai.Client
	config  Config
	fetcher *fetch.Fetcher
}

// NewOpenAIClient creates the client. fetcher, when present, is used to
// verify cited URLs before a submission leaves the worker.
func NewOpenAIClient(config Config, fetcher *fetch.Fetcher) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  config,
		fetcher: fetcher,
	}, nil
}

// chat issues one chat completion with the configured system prompt and
// timeout, and returns the raw assistant text.
func (c *OpenAIClient) chat(ctx context.Context, prompt string) (string, error) {
	m := c.config.Model
	if m == "" {
		m = openai.GPT4oMini
	}
	maxTokens := c.config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1500
	}
	timeout := time.Duration(c.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.config.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Decompose asks the model for atomic, independently verifiable
// propositions, one per array element.
func (c *OpenAIClient) Decompose(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(`Split this claim into atomic, independently verifiable propositions.
Return a JSON array of strings, most central proposition first, at most 5 entries.

Claim:
%s`, text)

	raw, err := c.chat(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var props []string
	if err := json.Unmarshal(stripFences(raw), &props); err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	return props, nil
}

type citationDTO struct {
	Title     string `json:"title"`
	Publisher string `json:"publisher"`
	URL       string `json:"url"`
	Quote     string `json:"quote"`
	ScopeTags []struct {
		Dimension string `json:"dimension"`
		Value     string `json:"value"`
	} `json:"scope_tags"`
}

type submissionDTO struct {
	ShortAnswer string            `json:"short_answer"`
	Findings    string            `json:"findings"`
	Citations   []citationDTO     `json:"citations"`
	Verdicts    map[string]string `json:"verdicts"`
}

// Execute produces a submission for the task. Revision feedback, when
// present, is folded into the prompt so the worker addresses the
// supervisor's issues.
func (c *OpenAIClient) Execute(ctx context.Context, task model.Task, feedback *model.ReviewVerdict) (model.Submission, error) {
	var b strings.Builder
	b.WriteString(task.Text)
	b.WriteString(`

Respond with JSON:
{"short_answer": "...", "findings": "...",
 "citations": [{"title": "...", "publisher": "...", "url": "...", "quote": "...",
   "scope_tags": [{"dimension": "time|geo|definition", "value": "..."}]}],
 "verdicts": {"<proposition id>": "TRUE|FALSE|UNDETERMINED"}}`)
	if feedback != nil {
		b.WriteString("\n\nYour previous submission was rejected. Address every issue:\n")
		for _, issue := range feedback.Issues {
			b.WriteString("- " + issue + "\n")
		}
	}

	raw, err := c.chat(ctx, b.String())
	if err != nil {
		return model.Submission{}, err
	}
	var dto submissionDTO
	if err := json.Unmarshal(stripFences(raw), &dto); err != nil {
		return model.Submission{}, fmt.Errorf("parse submission: %w", err)
	}

	sub := model.Submission{
		ShortAnswer: dto.ShortAnswer,
		Findings:    dto.Findings,
		Verdicts:    make(map[string]model.Verdict, len(dto.Verdicts)),
	}
	for id, v := range dto.Verdicts {
		sub.Verdicts[id] = model.Verdict(strings.ToUpper(v))
	}
	now := time.Now().UTC()
	for _, cd := range dto.Citations {
		citation := model.Citation{
			Title:       cd.Title,
			Publisher:   cd.Publisher,
			URL:         cd.URL,
			Quote:       cd.Quote,
			RetrievedAt: now,
		}
		for _, tag := range cd.ScopeTags {
			citation.ScopeTags = append(citation.ScopeTags, model.ScopeTag{
				Dimension: model.ScopeDimension(tag.Dimension),
				Value:     tag.Value,
			})
		}
		// Drop citations whose URL cannot be retrieved: the model may
		// not cite sources it did not actually reach.
		if c.fetcher != nil {
			res, err := c.fetcher.Fetch(ctx, citation.URL)
			if err != nil {
				continue
			}
			citation.RetrievedAt = res.FetchedAt
		}
		sub.Citations = append(sub.Citations, citation)
	}
	return sub, nil
}

type reviewDTO struct {
	Decision string   `json:"decision"`
	Digest   string   `json:"digest"`
	Issues   []string `json:"issues"`
}

// Review applies the supervisor's substantive judgment. Evidentiary
// minimums are already enforced by the gate before this call.
func (c *OpenAIClient) Review(ctx context.Context, task model.Task, sub model.Submission) (model.ReviewVerdict, error) {
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return model.ReviewVerdict{}, fmt.Errorf("marshal submission: %w", err)
	}
	prompt := fmt.Sprintf(`You are the supervisor. Judge whether this submission answers the task
with sufficient, scope-consistent evidence. Reject vague answers, quotes
that do not support the stated verdict, and citations whose scope tags
contradict the findings.

Task:
%s

Submission:
%s

Respond with JSON: {"decision": "APPROVE|REVISE", "digest": "one-line summary",
"issues": ["required when decision is REVISE"]}`, task.Text, subJSON)

	raw, err := c.chat(ctx, prompt)
	if err != nil {
		return model.ReviewVerdict{}, err
	}
	var dto reviewDTO
	if err := json.Unmarshal(stripFences(raw), &dto); err != nil {
		return model.ReviewVerdict{}, fmt.Errorf("parse review: %w", err)
	}

	decision := model.ReviewDecision(strings.ToUpper(dto.Decision))
	if decision != model.ReviewApprove && decision != model.ReviewRevise {
		return model.ReviewVerdict{}, fmt.Errorf("unexpected review decision %q", dto.Decision)
	}
	if decision == model.ReviewRevise && len(dto.Issues) == 0 {
		dto.Issues = []string{"supervisor requested revision without naming issues"}
	}
	return model.ReviewVerdict{
		Decision: decision,
		Digest:   dto.Digest,
		Issues:   dto.Issues,
	}, nil
}

// Describe turns an image attachment into text for claim folding. Audio
// and other media need a transcription-capable endpoint and are rejected
// here.
func (c *OpenAIClient) Describe(ctx context.Context, att model.Attachment) (string, error) {
	if !strings.HasPrefix(att.MimeType, "image/") {
		return "", fmt.Errorf("unsupported media type %q", att.MimeType)
	}
	data, err := os.ReadFile(att.Path)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", att.MimeType, base64.StdEncoding.EncodeToString(data))

	m := c.config.Model
	if m == "" {
		m = openai.GPT4oMini
	}
	timeout := time.Duration(c.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.config.SystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Describe the factual content of this image: any text it contains, who or what is shown, and any visible dates or places. Plain text."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("describe media: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// stripFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripFences(raw string) []byte {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return []byte(strings.TrimSpace(s))
}
