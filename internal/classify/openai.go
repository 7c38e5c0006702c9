package classify

import (
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// DefaultOpenAIModel is the default chat model for classification.
const DefaultOpenAIModel = "gpt-4o"

// ChatCompleter abstracts the OpenAI chat completion call.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClassifier classifies attachments with an OpenAI chat model. Images
// are sent as data URLs; PDFs are not readable by this backend and come back
// unrecognized.
type OpenAIClassifier struct {
	client ChatCompleter
	model  string
}

// NewOpenAIClassifier creates a new OpenAIClassifier.
func NewOpenAIClassifier(client ChatCompleter, model string) *OpenAIClassifier {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClassifier{client: client, model: model}
}

// NewOpenAIClient builds the default client for apiKey.
func NewOpenAIClient(apiKey string) *openai.Client {
	return openai.NewClient(apiKey)
}

// Classify sends the attachment to the model and parses its JSON verdict.
func (c *OpenAIClassifier) Classify(ctx context.Context, in Input) (domain.Classification, error) {
	kind, mediaType := kindOf(in.ContentType)

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: buildPrompt(in)}}
	switch kind {
	case kindImage:
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(in.Content),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	case kindText:
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: truncate(string(in.Content), maxTextInput)})
	case kindPDF, kindUnsupported:
		return unsupported(), nil
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Classification{}, fmt.Errorf("chat completion: no choices")
	}
	return parseOutput(resp.Choices[0].Message.Content)
}
