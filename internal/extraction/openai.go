package extraction

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

var outputSchema = generateSchema[rawOutput]()

// OpenAIExtractor extracts concepts with the OpenAI Responses API using a
// strict JSON schema. The request credential is the API key.
type OpenAIExtractor struct {
	model     string
	maxTokens int
	opts      []option.RequestOption
}

// NewOpenAIExtractor creates an OpenAI backend. opts are applied after the
// per-request API key.
func NewOpenAIExtractor(model string, maxContextTokens int, opts ...option.RequestOption) *OpenAIExtractor {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIExtractor{model: model, maxTokens: maxContextTokens, opts: opts}
}

// RequiresCredential is always true: calls are authenticated per request
func (e *OpenAIExtractor) RequiresCredential() bool { return true }

// Extract sends the session transcript to the model and parses its concepts
func (e *OpenAIExtractor) Extract(ctx context.Context, req *Request) (*Response, error) {
	opts := append([]option.RequestOption{option.WithAPIKey(req.Credential)}, e.opts...)
	client := openai.NewClient(opts...)

	transcript := BuildTranscript(req.Messages, req.Excerpts, e.maxTokens)
	params := responses.ResponseNewParams{
		Model:           e.model,
		Instructions:    openai.String(systemPrompt),
		MaxOutputTokens: openai.Int(2000),
		Temperature:     openai.Float(0.1),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(userPrompt(transcript), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "ConceptExtraction",
					Schema:      outputSchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Concepts extracted from a study session"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai extraction: %w", err)
	}

	concepts, err := parseOutput(resp.OutputText())
	if err != nil {
		return &Response{
			Success:      false,
			ErrorMessage: fmt.Sprintf("failed to parse model output: %v", err),
		}, nil
	}
	return &Response{Success: true, Concepts: concepts}, nil
}
