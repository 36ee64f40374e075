package studio

import (
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// clauseFunc - 프롬프트를 구성하는 한 블록. 빈 문자열을 반환하면 해당 블록 생략.
type clauseFunc func(cfg AngleConfig) string

// promptClauses - 블록 조립 순서 (순서 자체가 계약임)
var promptClauses = []clauseFunc{
	roleClause,
	qualityClause,
	aspectRatioClause,
	angleClause,
	contextClause,
	consistencyClause,
}

// BuildAnglePrompt - AngleConfig로부터 생성 지시문 전체를 조립 (순수 함수)
func BuildAnglePrompt(cfg AngleConfig) string {
	var b strings.Builder
	for _, clause := range promptClauses {
		b.WriteString(clause(cfg))
	}
	return b.String()
}

// BuildParts - Gemini 요청 payload 조립
// 순서 고정: [원본 이미지, (레퍼런스 이미지), 지시문 텍스트]
// 지시문이 "FIRST image" / "SECOND image"를 위치로 참조하므로 순서가 바뀌면 안 됨
func BuildParts(source []byte, sourceMime string, cfg AngleConfig) []*genai.Part {
	parts := []*genai.Part{
		{
			InlineData: &genai.Blob{
				MIMEType: sourceMime,
				Data:     source,
			},
		},
	}

	if len(cfg.ReferenceImage) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "image/jpeg",
				Data:     cfg.ReferenceImage,
			},
		})
	}

	parts = append(parts, genai.NewPartFromText(BuildAnglePrompt(cfg)))
	return parts
}

// roleClause - 역할/태스크 선언 (상수)
func roleClause(cfg AngleConfig) string {
	return "Role: Expert Virtual Photographer & 3D Render Engine.\n" +
		"TASK: Reshoot the input subject from a new specific camera angle.\n"
}

// qualityClause - 품질 지시 (4K만 최고 충실도 워딩)
func qualityClause(cfg AngleConfig) string {
	if cfg.Quality == Quality4K {
		return "OUTPUT QUALITY: 8k Resolution, Hyper-Realistic, RAW Photo.\n"
	}
	return "OUTPUT QUALITY: High Quality, Sharp Focus.\n"
}

// aspectRatioClause - 목표 비율 강제 + outpainting 규칙 (항상 포함)
func aspectRatioClause(cfg AngleConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nCRITICAL: OUTPUT ASPECT RATIO MUST BE %s.\n", cfg.AspectRatio)
	b.WriteString("INSTRUCTION: Reshape the canvas to match this ratio.\n")
	b.WriteString("- If the target ratio is wider than the source (e.g., 16:9), GENERATE (Outpaint) plausible background to fill the width.\n")
	b.WriteString("- If the target ratio is taller (e.g., 9:16), GENERATE (Outpaint) vertical context (floor/ceiling/sky) to fill the height.\n")
	b.WriteString("- DO NOT STRETCH the image. DO NOT add black bars.\n")
	return b.String()
}

// angleClause - 레퍼런스 브랜치 XOR 슬라이더 브랜치 (정확히 하나만 출력됨)
func angleClause(cfg AngleConfig) string {
	if len(cfg.ReferenceImage) > 0 {
		return referenceBranch(cfg)
	}
	return sliderBranch(cfg)
}

// referenceBranch - 레퍼런스 이미지가 각도의 유일한 기준이 됨
func referenceBranch(cfg AngleConfig) string {
	return "REFERENCE TARGET INSTRUCTION (OVERRIDE):\n" +
		"The SECOND image provided is the REFERENCE POSE/ANGLE.\n" +
		"Ignore the numeric rotation/tilt sliders. Instead, MATCH the Camera Angle, Perspective, and Head Pose of the REFERENCE image exactly.\n" +
		"Transfer the Reference Angle to the Subject in the FIRST image.\n\n"
}

// sliderBranch - 숫자 각도 지시. faceLock이면 피사체가 카메라를 따라 시선 유지
func sliderBranch(cfg AngleConfig) string {
	var b strings.Builder
	b.WriteString("\nCAMERA & SUBJECT MOVEMENT RULES:\n")

	if cfg.FaceLock {
		b.WriteString("MODE: FACE LOCK (Subject tracks camera).\n")
		b.WriteString("1. Camera moves to the specified angle.\n")
		b.WriteString("2. Subject ROTATES HEAD to maintain EYE CONTACT with the lens.\n")
		b.WriteString("3. Body may be angled, but Face is FRONT-FACING relative to the viewport.\n")
	} else {
		b.WriteString("MODE: STATIC SUBJECT (Camera Orbit).\n")
		b.WriteString("1. Subject stays FROZEN in their original pose.\n")
		b.WriteString("2. Camera moves around the subject.\n")
		b.WriteString("3. Example: Rotation +90° means seeing the subject's RIGHT profile (Camera moved left).\n")
	}

	b.WriteString("\nAPPLY THESE VALUES:\n")
	fmt.Fprintf(&b, "- Rotation (Yaw): %d°\n", cfg.Rotation)
	b.WriteString("  (0° = Front, 90° = Right Profile, -90° = Left Profile, 180° = Back)\n")
	fmt.Fprintf(&b, "- Tilt (Pitch): %d°\n", cfg.Tilt)
	b.WriteString("  (Positive = Looking Up at subject from below. Negative = Looking Down at subject from above)\n")

	// zoom은 0이면 관여하지 않음
	if cfg.Zoom != 0 {
		fmt.Fprintf(&b, "- Zoom Level: %d (Negative = Wide Angle/Fisheye, Positive = Telephoto/Compressed Background)\n", cfg.Zoom)
	}

	return b.String()
}

// contextClause - 사용자 자유 텍스트 (공백뿐이면 생략)
func contextClause(cfg AngleConfig) string {
	if strings.TrimSpace(cfg.Prompt) == "" {
		return ""
	}
	return fmt.Sprintf("\nADDITIONAL CONTEXT: %s\n", cfg.Prompt)
}

// consistencyClause - 동일성 유지 규칙 (상수, 항상 마지막)
func consistencyClause(cfg AngleConfig) string {
	return "\nCONSISTENCY RULES:\n" +
		"- Preserve facial identity 100%.\n" +
		"- Preserve clothing details, textures, and logos exactly.\n" +
		"- Lighting must remain consistent with the original scene but adapted to the 3D geometry.\n"
}

// CaptionInstruction - 캡션 제안용 고정 지시문
const CaptionInstruction = "Analyze this image and provide a concise, technical photographer's description (max 25 words) focusing on subject, lighting, and environment."
