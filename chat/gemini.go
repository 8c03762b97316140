package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"sn-classify/faults"
	"sn-classify/models"
)

const explainSystemPrompt = `You are an assistant for a supernova spectral classification service.
You receive the JSON result of classifying one optical spectrum and explain it to an observer:
- What the ranked supernova types and age bins mean
- How confident the classification is and whether the redshift estimate is trustworthy
- What a low RLAP score or a missing redshift implies for follow-up

Be accurate and concise. Explain technical terms briefly. Keep responses under 200 words unless more detail is specifically requested.`

type GeminiClient struct {
	client *genai.Client
	ctx    context.Context
}

func NewGeminiClient() (*GeminiClient, error) {
	ctx := context.Background()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, faults.New(faults.Configuration, "GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, faults.Wrap(faults.Configuration, err, "failed to create Gemini client")
	}

	return &GeminiClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// ExplainClassification produces a plain-language reading of a result,
// optionally guided by a follow-up question from the user.
func (g *GeminiClient) ExplainClassification(result *models.ClassificationResult, question string) (string, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return "", faults.Wrap(faults.Pipeline, err, "failed to encode result")
	}

	message := fmt.Sprintf("Classification result:\n%s", payload)
	if question != "" {
		message += "\n\nQuestion: " + question
	}

	systemInstruction := genai.NewContentFromText(explainSystemPrompt, genai.RoleModel)
	userContent := genai.NewContentFromText(message, genai.RoleUser)

	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Temperature:       genai.Ptr(float32(0.4)),
		TopP:              genai.Ptr(float32(0.8)),
		TopK:              genai.Ptr(float32(40)),
		MaxOutputTokens:   int32(400),
	}

	resp, err := g.client.Models.GenerateContent(
		g.ctx,
		"gemini-2.5-flash",
		[]*genai.Content{userContent},
		config,
	)
	if err != nil {
		return "", faults.Wrap(faults.ExternalService, err, "failed to generate explanation")
	}

	text := resp.Text()
	if text == "" {
		return "No explanation could be generated for this result.", nil
	}

	return strings.ReplaceAll(text, "*", ""), nil
}

func (g *GeminiClient) Close() error {
	// The client has no explicit Close; resources are managed automatically
	return nil
}
