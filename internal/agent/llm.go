package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/enmapper/snowflow/internal/model"
)

// ChatMessage is one turn of a chat completion conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient is a minimal Azure OpenAI chat-completions client. One client
// is bound to one deployment; planners hold one per debate role.
type ChatClient struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	apiVersion      string
	deployment      string
	reasoningEffort string
	maxRetries      int
	logger          *slog.Logger
}

// ChatClientConfig configures a ChatClient.
type ChatClientConfig struct {
	BaseURL         string
	APIKey          string
	APIVersion      string // defaults to 2024-12-01-preview
	Deployment      string
	ReasoningEffort string // empty to omit
	Timeout         time.Duration
	Logger          *slog.Logger
}

// NewChatClient creates a client for one model deployment.
func NewChatClient(cfg ChatClientConfig) *ChatClient {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-12-01-preview"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClient{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		apiVersion:      cfg.APIVersion,
		deployment:      cfg.Deployment,
		reasoningEffort: cfg.ReasoningEffort,
		maxRetries:      3,
		logger:          logger,
	}
}

type chatRequest struct {
	Messages            []ChatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string        `json:"reasoning_effort,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the messages and returns the assistant content. Empty
// responses are retried up to maxRetries times with an explicit nudge,
// since reasoning models occasionally return empty content.
func (c *ChatClient) Complete(ctx context.Context, messages []ChatMessage, maxTokens int) (string, error) {
	msgs := messages
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		content, err := c.complete(ctx, msgs, maxTokens)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(content) != "" {
			return content, nil
		}
		c.logger.Warn("empty completion, retrying",
			"deployment", c.deployment, "attempt", attempt)
		if attempt < c.maxRetries {
			msgs = append(msgs, ChatMessage{
				Role:    "user",
				Content: "Please provide your response. Do not return empty content.",
			})
		}
	}
	return "", fmt.Errorf("deployment %s returned empty content after %d attempts", c.deployment, c.maxRetries)
}

func (c *ChatClient) complete(ctx context.Context, messages []ChatMessage, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages:            messages,
		MaxCompletionTokens: maxTokens,
		ReasoningEffort:     c.reasoningEffort,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?%s",
		c.baseURL, url.PathEscape(c.deployment),
		url.Values{"api-version": {c.apiVersion}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("chat completion status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

const (
	alphaSystemPrompt = `You are Planner Alpha, an expert database migration architect.
Your role is to create detailed, safe, and efficient migration plans for moving databases to Snowflake.
Focus on correctness, data integrity, and providing complete DDL statements.`

	betaSystemPrompt = `You are Planner Beta, a critical reviewer of database migration plans.
Your role is to find issues, suggest improvements, and ensure the migration plan is robust.
Focus on edge cases, performance concerns, and rollback strategies.`
)

// LLMPlanner runs debate rounds against per-role chat deployments.
// It is stateless between rounds: the prior artifact travels in the request.
type LLMPlanner struct {
	cfg       ChatClientConfig
	maxTokens int
}

// NewLLMPlanner creates a planner that builds one ChatClient per round
// from the request's model selection.
func NewLLMPlanner(cfg ChatClientConfig) *LLMPlanner {
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = "medium"
	}
	return &LLMPlanner{cfg: cfg, maxTokens: 16000}
}

// DebateRound produces the next plan artifact. Round 1 drafts the initial
// plan from the catalog; later rounds critique and revise the prior
// artifact.
func (p *LLMPlanner) DebateRound(ctx context.Context, req DebateRequest) (DebateResult, error) {
	cfg := p.cfg
	cfg.Deployment = req.Model
	if !strings.Contains(req.Model, "codex") {
		cfg.ReasoningEffort = ""
	}
	client := NewChatClient(cfg)

	system := alphaSystemPrompt
	if req.Agent == AgentBeta {
		system = betaSystemPrompt
	}

	var prompt strings.Builder
	if req.Round == 1 {
		prompt.WriteString("You are tasked with creating a migration plan for moving this database schema to Snowflake.\n\n")
		prompt.WriteString("Here is the source schema catalog:\n\n")
		prompt.WriteString(summarizeCatalog(req.Catalog))
		prompt.WriteString("\n\nProvide a detailed migration plan covering schema creation order, ")
		prompt.WriteString("DDL statements, data type mappings, data loading strategy, and validation checks.")
	} else {
		prompt.WriteString("Review the following migration plan and produce a revised version that ")
		prompt.WriteString("addresses completeness, edge cases, performance, and rollback strategy. ")
		prompt.WriteString("Output the full revised plan, not just the critique.\n\n")
		prompt.WriteString(req.PriorArtifact)
	}
	if req.Instructions != "" {
		prompt.WriteString("\n\nAdditional instructions from the operator:\n")
		prompt.WriteString(req.Instructions)
	}

	content, err := client.Complete(ctx, []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt.String()},
	}, p.maxTokens)
	if err != nil {
		return DebateResult{}, fmt.Errorf("debate round %d (%s): %w", req.Round, req.Agent, err)
	}
	return DebateResult{Artifact: content}, nil
}

const diagramSystemPrompt = `You are an expert at creating Mermaid ER diagrams. Generate a clean, readable Mermaid erDiagram from the provided schema information.

RULES:
1. Output ONLY the Mermaid code, no explanations
2. Use erDiagram syntax
3. Include all tables with their key columns
4. Show relationships with proper cardinality
5. For large schemas, focus on PK, FK, and a few key fields`

// LLMRenderer asks a chat deployment to draw the schema as a Mermaid
// erDiagram. Low reasoning effort is enough for diagram generation.
type LLMRenderer struct {
	client *ChatClient
}

// NewLLMRenderer creates a renderer bound to one deployment.
func NewLLMRenderer(cfg ChatClientConfig) *LLMRenderer {
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = "low"
	}
	return &LLMRenderer{client: NewChatClient(cfg)}
}

// RenderDiagram returns Mermaid erDiagram text for the catalog.
func (r *LLMRenderer) RenderDiagram(ctx context.Context, catalog *model.Catalog) (string, error) {
	content, err := r.client.Complete(ctx, []ChatMessage{
		{Role: "system", Content: diagramSystemPrompt},
		{Role: "user", Content: summarizeCatalog(catalog)},
	}, 4000)
	if err != nil {
		return "", fmt.Errorf("render diagram: %w", err)
	}
	return stripCodeFence(content), nil
}

// summarizeCatalog renders the catalog as a compact text block for prompts.
func summarizeCatalog(c *model.Catalog) string {
	if c == nil {
		return "(no catalog)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Schema: %s\nTables: %d\nRelationships: %d\n", c.Schema, len(c.Tables), len(c.Relationships))
	for _, t := range c.Tables {
		fmt.Fprintf(&b, "\nTable %s (%d rows):\n", t.Name, t.RowCount)
		for _, col := range t.Columns {
			nullable := "not null"
			if col.Nullable {
				nullable = "nullable"
			}
			fmt.Fprintf(&b, "  %s %s %s\n", col.Name, col.DataType, nullable)
		}
		if len(t.PrimaryKey) > 0 {
			fmt.Fprintf(&b, "  primary key: %s\n", strings.Join(t.PrimaryKey, ", "))
		}
	}
	for _, rel := range c.Relationships {
		fmt.Fprintf(&b, "\n%s.%s -> %s.%s", rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn)
	}
	return b.String()
}

// stripCodeFence unwraps a ```mermaid ... ``` block if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```mermaid")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
