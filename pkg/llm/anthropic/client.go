// Package anthropic implements the llm.Provider adapter for the
// Anthropic Messages API (the claude backend).
package anthropic

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

const (
	// DefaultBaseURL is the production Messages API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion = "2023-06-01"

	providerName = "claude"
)

// Client implements llm.Provider against the Messages API.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a claude adapter.
func New(config *llm.Config) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{},
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// streamEvent covers the SSE event payloads the adapter consumes:
// content_block_delta carries text, message_stop ends the stream, and
// error surfaces a mid-stream failure.
type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) buildRequest(conv llm.Conversation, opts llm.Options, stream bool) messagesRequest {
	msgs := make([]message, len(conv))
	for i, t := range conv {
		msgs[i] = message{Role: string(t.Role), Content: t.Content}
	}
	temp := opts.Temperature
	return messagesRequest{
		Model:       c.config.Model,
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: &temp,
		Messages:    msgs,
		Stream:      stream,
	}
}

func (c *Client) post(ctx context.Context, reqBody messagesRequest, accept string) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.Errf(llm.KindTransient, providerName, "sending request: %v", err)
	}
	return resp, nil
}

// Generate sends a blocking messages request.
func (c *Client) Generate(ctx context.Context, conv llm.Conversation, opts llm.Options) (string, error) {
	resp, err := c.post(ctx, c.buildRequest(conv, opts, false), "")
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

	var msgResp messagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return "", llm.Errf(llm.KindTransient, providerName, "parsing response: %v", err)
	}
	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 && len(msgResp.Content) == 0 {
		return "", llm.Errf(llm.KindTransient, providerName, "empty response content")
	}
	return text.String(), nil
}

// Stream sends a streaming messages request and returns the canonical
// event stream.
func (c *Client) Stream(ctx context.Context, conv llm.Conversation, opts llm.Options) (<-chan llm.StreamEvent, error) {
	resp, err := c.post(ctx, c.buildRequest(conv, opts, true), "text/event-stream")
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
			payload := strings.TrimPrefix(line, "data: ")

			var event streamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" {
					return event.Delta.Text, nil
				}
			case "message_stop":
				return "", io.EOF
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				// Mid-stream errors arrive without an HTTP status;
				// classify on the message alone as a limit-style
				// rejection so token overflows are still recoverable.
				return "", llm.Classify(providerName, http.StatusTooManyRequests, msg)
			}
		}
		if err := scanner.Err(); err != nil {
			return "", llm.Errf(llm.KindTransient, providerName, "reading stream: %v", err)
		}
		return "", io.EOF
	}
	return llm.NormalizeStream(ctx, providerName, src, func() { resp.Body.Close() }), nil
}
