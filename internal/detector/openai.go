package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
)

// OpenAIConfig controls the vision-model labeler.
type OpenAIConfig struct {
	Model         string
	MinConfidence float64
}

// OpenAIDetector labels images with a vision model instead of a dedicated
// detection sidecar. Bounding boxes are not available from this backend.
type OpenAIDetector struct {
	cfg    OpenAIConfig
	client *openai.Client
}

// NewOpenAI creates an OpenAIDetector using the provided client.
func NewOpenAI(client *openai.Client, cfg OpenAIConfig) (*OpenAIDetector, error) {
	if client == nil {
		return nil, fmt.Errorf("openai client is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	return &OpenAIDetector{cfg: cfg, client: client}, nil
}

const labelerInstructions = "You label objects visible in a photo. " +
	"Respond with JSON only: an object with a \"detections\" array, each entry " +
	"having \"label\" (a lowercase COCO-style object name such as person, bottle, " +
	"box, cup) and \"confidence\" (0.0-1.0). List each distinct object once."

var labelerSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"detections"},
	"properties": map[string]any{
		"detections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"label", "confidence"},
				"properties": map[string]any{
					"label":      map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
				},
			},
		},
	},
}

type labelerOutput struct {
	Detections []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
}

// Detect sends the image to the vision model and maps its labels to detections.
func (d *OpenAIDetector) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", imagePath, err)
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)

	params := responses.ResponseNewParams{
		Model:           d.cfg.Model,
		MaxOutputTokens: openai.Int(500),
		Instructions:    openai.String(labelerInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				{
					OfMessage: &responses.EasyInputMessageParam{
						Role: responses.EasyInputMessageRoleUser,
						Content: responses.EasyInputMessageContentUnionParam{
							OfInputItemContentList: responses.ResponseInputMessageContentListParam{
								{
									OfInputText: &responses.ResponseInputTextParam{
										Text: "List the objects in this photo.",
									},
								},
								{
									OfInputImage: &responses.ResponseInputImageParam{
										ImageURL: openai.String(dataURL),
										Detail:   responses.ResponseInputImageDetailLow,
									},
								},
							},
						},
					},
				},
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   "ObjectDetections",
					Schema: labelerSchema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		},
	}

	resp, err := d.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("vision labeler call: %w", err)
	}

	var out labelerOutput
	if err := json.Unmarshal([]byte(resp.OutputText()), &out); err != nil {
		return nil, fmt.Errorf("unmarshal labeler output: %w", err)
	}

	dets := make([]Detection, 0, len(out.Detections))
	for _, det := range out.Detections {
		label := strings.ToLower(strings.TrimSpace(det.Label))
		if label == "" || det.Confidence < d.cfg.MinConfidence {
			continue
		}
		dets = append(dets, Detection{Label: label, Confidence: det.Confidence})
	}
	return dets, nil
}
