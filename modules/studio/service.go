package studio

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"

	"monday-angles-server/modules/common/config"
	"monday-angles-server/modules/common/utils"
)

// FallbackCaption - 캡션 제안 실패 시 반환되는 고정 문구
const FallbackCaption = "A detailed studio photo of the subject."

// Service - Gemini 호출 경계. 생성/캡션 두 가지 호출만 담당
type Service struct {
	genaiClient *genai.Client
}

// NewService - Service 초기화 (실패 시 nil)
func NewService() *Service {
	cfg := config.GetConfig()

	ctx := context.Background()
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Printf("❌ [Studio] Failed to create Genai client: %v", err)
		return nil
	}

	log.Println("✅ [Studio] Service initialized")
	return &Service{
		genaiClient: genaiClient,
	}
}

// RequestAngle - 설정된 각도로 이미지 한 장 생성
// 응답에 디코딩 가능한 이미지가 없으면 ErrNoImageReturned
// 전송 에러는 재시도 없이 그대로 전파
func (s *Service) RequestAngle(ctx context.Context, source []byte, sourceMime string, cfg AngleConfig) ([]byte, error) {
	conf := config.GetConfig()

	// 전송 전 원본 축소 (실패하면 원본 그대로 사용)
	transferData, transferMime, err := utils.DownscaleForTransfer(source, utils.MaxTransferEdge)
	if err != nil {
		log.Printf("⚠️ [Studio] Downscale failed, sending original: %v", err)
		transferData, transferMime = source, sourceMime
	}

	parts := BuildParts(transferData, transferMime, cfg)
	content := &genai.Content{
		Parts: parts,
	}

	result, err := s.genaiClient.Models.GenerateContent(
		ctx,
		conf.GeminiImageModel,
		[]*genai.Content{content},
		&genai.GenerateContentConfig{
			ImageConfig: &genai.ImageConfig{
				AspectRatio: cfg.AspectRatio,
			},
			Temperature: floatPtr(0.5), // 일관성을 위해 낮은 temperature
		},
	)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	// 응답에서 첫 번째 이미지 추출
	if img := extractFirstImage(result); img != nil {
		return img, nil
	}

	return nil, ErrNoImageReturned
}

// RequestCaption - 원본 이미지의 사진가 스타일 캡션 제안
// 어떤 실패든 호출자에게 전파하지 않고 고정 fallback 문구로 degrade
func (s *Service) RequestCaption(ctx context.Context, imageData []byte, mimeType string) string {
	conf := config.GetConfig()

	content := &genai.Content{
		Parts: []*genai.Part{
			{
				InlineData: &genai.Blob{
					MIMEType: mimeType,
					Data:     imageData,
				},
			},
			genai.NewPartFromText(CaptionInstruction),
		},
	}

	result, err := s.genaiClient.Models.GenerateContent(
		ctx,
		conf.GeminiTextModel,
		[]*genai.Content{content},
		nil,
	)
	if err != nil {
		log.Printf("⚠️ [Studio] Caption suggestion failed: %v", err)
		return FallbackCaption
	}

	if text := extractText(result); text != "" {
		return text
	}

	log.Printf("⚠️ [Studio] Caption response contained no text")
	return FallbackCaption
}

// extractFirstImage - 응답 candidates에서 첫 번째 inline 이미지 추출
func extractFirstImage(result *genai.GenerateContentResponse) []byte {
	if result == nil {
		return nil
	}
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data
			}
		}
	}
	return nil
}

// extractText - 응답 candidates에서 텍스트 추출
func extractText(result *genai.GenerateContentResponse) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// floatPtr - float32 포인터 헬퍼
func floatPtr(f float64) *float32 {
	f32 := float32(f)
	return &f32
}
