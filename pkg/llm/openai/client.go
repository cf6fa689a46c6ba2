// Package openai implements the llm.Provider adapter for
// OpenAI-compatible chat completion APIs. The gateway uses it for the
// openai, groq, mistral, and deepseek backends, which differ only in
// base URL, model, and token ceiling.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/llmgate/pkg/llm"
)

// Client implements llm.Provider against a chat-completions endpoint.
type Client struct {
	name       string
	config     *llm.Config
	httpClient *http.Client
}

// New creates an adapter for the named backend. name is the provider
// key used in error messages ("openai", "groq", ...). Request timeouts
// are owned by the surrounding transport and context, not set here.
func New(name string, config *llm.Config) *Client {
	return &Client{
		name:       name,
		config:     config,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *Client) buildRequest(conv llm.Conversation, opts llm.Options, stream bool) chatRequest {
	msgs := make([]message, len(conv))
	for i, t := range conv {
		msgs[i] = message{Role: string(t.Role), Content: t.Content}
	}
	temp := opts.Temperature
	return chatRequest{
		Model:       c.config.Model,
		Messages:    msgs,
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: &temp,
		Stream:      stream,
	}
}

func (c *Client) post(ctx context.Context, reqBody chatRequest, accept string) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.Errf(llm.KindTransient, c.name, "sending request: %v", err)
	}
	return resp, nil
}

// Generate sends a blocking chat completion request.
func (c *Client) Generate(ctx context.Context, conv llm.Conversation, opts llm.Options) (string, error) {
	resp, err := c.post(ctx, c.buildRequest(conv, opts, false), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.Errf(llm.KindTransient, c.name, "reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.Classify(c.name, resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", llm.Errf(llm.KindTransient, c.name, "parsing response: %v", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", llm.Errf(llm.KindTransient, c.name, "no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// Stream sends a streaming chat completion request and returns the
// canonical event stream.
func (c *Client) Stream(ctx context.Context, conv llm.Conversation, opts llm.Options) (<-chan llm.StreamEvent, error) {
	resp, err := c.post(ctx, c.buildRequest(conv, opts, true), "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, llm.Classify(c.name, resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	src := func() (string, error) {
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return "", io.EOF
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			// Empty deltas are dropped by the normalizer.
			return chunk.Choices[0].Delta.Content, nil
		}
		if err := scanner.Err(); err != nil {
			return "", llm.Errf(llm.KindTransient, c.name, "reading stream: %v", err)
		}
		return "", io.EOF
	}
	return llm.NormalizeStream(ctx, c.name, src, func() { resp.Body.Close() }), nil
}
