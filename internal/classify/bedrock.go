package classify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

const (
	// DefaultBedrockModelID is the default Bedrock model for classification.
	DefaultBedrockModelID = "anthropic.claude-haiku-4-5-20251001-v1:0"
	// anthropicVersion is the required API version for Claude on Bedrock.
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 2048
)

// BedrockInvoker abstracts Bedrock model invocation for dependency inversion.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConfig holds configuration for BedrockClassifier.
type BedrockConfig struct {
	ModelID   string
	MaxTokens int
}

// BedrockClassifier classifies attachments with Claude on Amazon Bedrock.
// Images and PDFs are sent as base64 content blocks, text inline.
type BedrockClassifier struct {
	client    BedrockInvoker
	modelID   string
	maxTokens int
}

// NewBedrockClassifier creates a new BedrockClassifier.
func NewBedrockClassifier(client BedrockInvoker, cfg BedrockConfig) *BedrockClassifier {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = DefaultBedrockModelID
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &BedrockClassifier{client: client, modelID: modelID, maxTokens: maxTokens}
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *blockSource `json:"source,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	Content []contentBlock `json:"content"`
}

// Classify sends the attachment to the model and parses its JSON verdict.
func (c *BedrockClassifier) Classify(ctx context.Context, in Input) (domain.Classification, error) {
	kind, mediaType := kindOf(in.ContentType)

	var blocks []contentBlock
	switch kind {
	case kindImage:
		blocks = append(blocks, contentBlock{Type: "image", Source: &blockSource{
			Type: "base64", MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(in.Content),
		}})
	case kindPDF:
		blocks = append(blocks, contentBlock{Type: "document", Source: &blockSource{
			Type: "base64", MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(in.Content),
		}})
	case kindText:
		blocks = append(blocks, contentBlock{Type: "text", Text: truncate(string(in.Content), maxTextInput)})
	case kindUnsupported:
		return unsupported(), nil
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: buildPrompt(in)})

	reqBody, err := json.Marshal(claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        c.maxTokens,
		Messages:         []claudeMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	modelID := c.modelID
	contentType := "application/json"
	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &modelID,
		ContentType: &contentType,
		Body:        reqBody,
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("invoke model: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return domain.Classification{}, fmt.Errorf("unmarshal response: %w", err)
	}
	var text strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return parseOutput(text.String())
}
