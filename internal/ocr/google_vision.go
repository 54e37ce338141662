package ocr

import (
	"context"
	"fmt"
	"os"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// MaxVisionImageBytes is the maximum inline image size accepted by Cloud Vision.
const MaxVisionImageBytes = 20 * 1024 * 1024

// VisionEngine implements Engine using Google Cloud Vision document text detection.
type VisionEngine struct {
	client    *vision.ImageAnnotatorClient
	languages []string
}

// NewVisionEngine creates a Cloud Vision engine with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS JSON in env,
// and falls back to application default credentials. opts are applied after
// the credentials, e.g. a quota project.
func NewVisionEngine(ctx context.Context, languages []string, opts ...option.ClientOption) (*VisionEngine, error) {
	const op = "NewVisionEngine"

	var client *vision.ImageAnnotatorClient
	var err error

	// Check for inline credentials first
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, withCredentials(option.WithCredentialsJSON([]byte(credJSON)), opts)...)
		if err != nil {
			return nil, WrapExtractionError(op, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, withCredentials(option.WithCredentialsFile(credFile), opts)...)
		if err != nil {
			return nil, WrapExtractionError(op, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	} else {
		// Try default credentials as fallback
		client, err = vision.NewImageAnnotatorClient(ctx, opts...)
		if err != nil {
			return nil, WrapExtractionError(op, ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return NewVisionEngineWithClient(client, languages...), nil
}

func withCredentials(creds option.ClientOption, opts []option.ClientOption) []option.ClientOption {
	return append([]option.ClientOption{creds}, opts...)
}

// NewVisionEngineWithClient creates an engine with an explicit client (for testing).
func NewVisionEngineWithClient(client *vision.ImageAnnotatorClient, languages ...string) *VisionEngine {
	return &VisionEngine{
		client:    client,
		languages: append([]string(nil), languages...),
	}
}

// Name implements Engine.
func (v *VisionEngine) Name() string { return "vision" }

// Recognize implements Engine.
func (v *VisionEngine) Recognize(ctx context.Context, pngData []byte) (string, error) {
	const op = "Recognize"

	if len(pngData) > MaxVisionImageBytes {
		return "", WrapExtractionError(op, ErrImageTooLarge, fmt.Sprintf("image size: %d bytes", len(pngData)))
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: pngData},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: v.imageContext(),
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", WrapExtractionError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	return textFromResponse(resp)
}

func (v *VisionEngine) imageContext() *visionpb.ImageContext {
	if len(v.languages) == 0 {
		return nil
	}
	return &visionpb.ImageContext{LanguageHints: v.languages}
}

// textFromResponse pulls the full text annotation out of a Vision response.
// A response without annotations means the page has no text.
func textFromResponse(resp *visionpb.BatchAnnotateImagesResponse) (string, error) {
	const op = "textFromResponse"

	if resp == nil || len(resp.Responses) == 0 {
		return "", WrapExtractionError(op, ErrOCRFailed, "no response from Vision API")
	}

	imageResp := resp.Responses[0]
	if imageResp.Error != nil && imageResp.Error.Code != 0 {
		return "", WrapExtractionError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", imageResp.Error.Message))
	}
	if imageResp.FullTextAnnotation != nil {
		return imageResp.FullTextAnnotation.Text, nil
	}
	// Older responses may only carry the aggregate text annotation.
	if len(imageResp.TextAnnotations) > 0 {
		return imageResp.TextAnnotations[0].Description, nil
	}
	return "", nil
}

// Close closes the underlying Vision client.
func (v *VisionEngine) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
