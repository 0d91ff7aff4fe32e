// Package gemini provides a thin client for answer generation over
// retrieved knowledge snippets.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Client wraps the Gemini API for grounded question answering.
type Client struct {
	client *genai.Client
	model  string
}

// Config configures the Gemini client.
type Config struct {
	APIKey string
	Model  string
}

// NewClient creates a Gemini client against the public Gemini API backend.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{client: client, model: cfg.Model}, nil
}

// Answer generates an answer to the question using only the provided
// context snippets. Returns an empty string when the model declines.
func (c *Client) Answer(ctx context.Context, question string, contexts []string) (string, error) {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say you do not know.\n\n")
	for i, snippet := range contexts {
		fmt.Fprintf(&b, "Context %d:\n%s\n\n", i+1, snippet)
	}
	b.WriteString("Question: ")
	b.WriteString(question)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(b.String()), nil)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}

	return strings.TrimSpace(resp.Text()), nil
}
