// Package gemini implements the llm.Provider adapter for the Google
// Generative Language API. Gemini differs from the other backends in
// two ways the adapter has to absorb: assistant turns use the role
// "model", and the model id itself is unreliable enough that the
// adapter probes an ordered preference list and falls back when a model
// is reported unavailable.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/user/llmgate/pkg/llm"
)

const (
	// DefaultBaseURL is the production Generative Language endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	providerName = "gemini"
)

// DefaultCandidates is the built-in model preference order, most
// capable first.
var DefaultCandidates = []Candidate{
	{DisplayName: "Gemini 1.5 Pro", ModelID: "gemini-1.5-pro"},
	{DisplayName: "Gemini 1.5 Flash", ModelID: "gemini-1.5-flash"},
	{DisplayName: "Gemini Pro", ModelID: "gemini-pro"},
}

// Client implements llm.Provider against the Generative Language API.
type Client struct {
	config     *llm.Config
	selector   *Selector
	httpClient *http.Client

	listOnce  sync.Once
	available []string
}

// New creates a gemini adapter probing the given candidate list; a nil
// list uses DefaultCandidates.
func New(config *llm.Config, candidates []Candidate) *Client {
	if candidates == nil {
		candidates = DefaultCandidates
	}
	return &Client{
		config:     config,
		selector:   NewSelector(candidates),
		httpClient: &http.Client{},
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type modelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (c *Client) buildRequest(conv llm.Conversation, opts llm.Options) generateRequest {
	contents := make([]content, len(conv))
	for i, t := range conv {
		role := "user"
		if t.Role == llm.RoleAssistant {
			role = "model"
		}
		contents[i] = content{Role: role, Parts: []part{{Text: t.Content}}}
	}
	return generateRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}
}

// availableModels fetches the backend's model list once per adapter
// instance. A failed listing returns nil, which the selector treats as
// unknown availability.
func (c *Client) availableModels(ctx context.Context) []string {
	c.listOnce.Do(func() {
		url := strings.TrimRight(c.config.BaseURL, "/") + "/models"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return
		}
		req.Header.Set("x-goog-api-key", c.config.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			slog.Debug("gemini model listing failed", "error", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			slog.Debug("gemini model listing failed", "status", resp.StatusCode)
			return
		}

		var list modelList
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return
		}
		for _, m := range list.Models {
			c.available = append(c.available, strings.TrimPrefix(m.Name, "models/"))
		}
	})
	return c.available
}

func (c *Client) post(ctx context.Context, model, method string, reqBody generateRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", strings.TrimRight(c.config.BaseURL, "/"), model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.Errf(llm.KindTransient, providerName, "sending request: %v", err)
	}
	return resp, nil
}

// Generate sends a blocking generateContent request, falling back
// through the model preference list when the backend reports the
// selected model unavailable.
func (c *Client) Generate(ctx context.Context, conv llm.Conversation, opts llm.Options) (string, error) {
	for {
		model, err := c.selector.Select(c.availableModels(ctx))
		if err != nil {
			return "", err
		}
		out, err := c.generateWith(ctx, model.ModelID, conv, opts)
		if llm.IsKind(err, llm.KindModelUnavailable) {
			slog.Warn("gemini model unavailable, falling back", "model", model.ModelID)
			if serr := c.selector.MarkUnavailable(model.ModelID); serr != nil {
				return "", serr
			}
			continue
		}
		return out, err
	}
}

func (c *Client) generateWith(ctx context.Context, model string, conv llm.Conversation, opts llm.Options) (string, error) {
	resp, err := c.post(ctx, model, "generateContent", c.buildRequest(conv, opts))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.Errf(llm.KindTransient, providerName, "reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.Classify(providerName, resp.StatusCode, string(respBody))
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", llm.Errf(llm.KindTransient, providerName, "parsing response: %v", err)
	}
	if len(genResp.Candidates) == 0 {
		return "", llm.Errf(llm.KindTransient, providerName, "no candidates in response")
	}
	var text strings.Builder
	for _, p := range genResp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

// Stream sends a streaming generateContent request with the same model
// fallback behavior as Generate.
func (c *Client) Stream(ctx context.Context, conv llm.Conversation, opts llm.Options) (<-chan llm.StreamEvent, error) {
	for {
		model, err := c.selector.Select(c.availableModels(ctx))
		if err != nil {
			return nil, err
		}
		events, err := c.streamWith(ctx, model.ModelID, conv, opts)
		if llm.IsKind(err, llm.KindModelUnavailable) {
			slog.Warn("gemini model unavailable, falling back", "model", model.ModelID)
			if serr := c.selector.MarkUnavailable(model.ModelID); serr != nil {
				return nil, serr
			}
			continue
		}
		return events, err
	}
}

func (c *Client) streamWith(ctx context.Context, model string, conv llm.Conversation, opts llm.Options) (<-chan llm.StreamEvent, error) {
	resp, err := c.post(ctx, model, "streamGenerateContent?alt=sse", c.buildRequest(conv, opts))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, llm.Classify(providerName, resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	src := func() (string, error) {
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				continue
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			var text strings.Builder
			for _, p := range chunk.Candidates[0].Content.Parts {
				text.WriteString(p.Text)
			}
			return text.String(), nil
		}
		if err := scanner.Err(); err != nil {
			return "", llm.Errf(llm.KindTransient, providerName, "reading stream: %v", err)
		}
		return "", io.EOF
	}
	return llm.NormalizeStream(ctx, providerName, src, func() { resp.Body.Close() }), nil
}
