package studio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ImageQuality - 출력 품질 설정 (실제 해상도가 아니라 프롬프트 워딩에 반영됨)
type ImageQuality string

const (
	QualityStandard ImageQuality = "Standard"
	Quality2K       ImageQuality = "2K"
	Quality4K       ImageQuality = "4K"
)

// 카메라 각도 도메인
const (
	MinRotation = -180
	MaxRotation = 180
	MinTilt     = -90
	MaxTilt     = 90
	MinZoom     = -10
	MaxZoom     = 10
)

// ValidAspectRatios - 허용된 aspect ratio 목록
var ValidAspectRatios = map[string]bool{
	"1:1":  true,
	"4:3":  true,
	"3:4":  true,
	"16:9": true,
	"9:16": true,
	"21:9": true,
	"3:2":  true,
	"2:3":  true,
}

// IsValidQuality - 유효한 품질 값인지 확인
func IsValidQuality(q ImageQuality) bool {
	switch q {
	case QualityStandard, Quality2K, Quality4K:
		return true
	}
	return false
}

// AngleConfig - 한 장의 촬영을 기술하는 카메라 설정
// ReferenceImage가 있으면 rotation/tilt/zoom은 무시되고 레퍼런스의 각도를 따라감
type AngleConfig struct {
	Rotation       int          `json:"rotation"`    // Yaw: -180 ~ 180 (0 = 정면)
	Tilt           int          `json:"tilt"`        // Pitch: -90 ~ 90 (양수 = 아래에서 올려다봄)
	Zoom           int          `json:"zoom"`        // -10 ~ 10 (음수 = 광각, 양수 = 망원)
	AspectRatio    string       `json:"aspectRatio"` // "1:1", "16:9" 등
	Quality        ImageQuality `json:"quality"`
	Prompt         string       `json:"prompt"`
	ReferenceImage []byte       `json:"-"` // 레퍼런스 포즈 이미지 (옵션)
	FaceLock       bool         `json:"faceLock"`
}

// DefaultAngleConfig - 기본 설정
func DefaultAngleConfig() AngleConfig {
	return AngleConfig{
		Rotation:    0,
		Tilt:        0,
		Zoom:        0,
		AspectRatio: "1:1",
		Quality:     QualityStandard,
		Prompt:      "",
		FaceLock:    false,
	}
}

// ClampAngles - rotation/tilt/zoom을 도메인 범위로 클램프
func (c *AngleConfig) ClampAngles() {
	c.Rotation = clampInt(c.Rotation, MinRotation, MaxRotation)
	c.Tilt = clampInt(c.Tilt, MinTilt, MaxTilt)
	c.Zoom = clampInt(c.Zoom, MinZoom, MaxZoom)
}

// clampInt - 정수 클램프
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// roundToInt - 드래그/슬라이더의 소수 delta를 정수로 반올림
func roundToInt(v float64) int {
	return int(math.Round(v))
}

// GenerationTask - Batch Scheduler 내부의 발사 단위 (완료되면 폐기)
type GenerationTask struct {
	Settings    AngleConfig
	Label       string
	LaunchOrder int
	IsVariation bool
}

// GeneratedImage - 세션 히스토리에 남는 생성 결과 (생성 후 불변)
type GeneratedImage struct {
	ID          string      `json:"id"`
	ImageData   []byte      `json:"-"`
	CreatedAt   time.Time   `json:"createdAt"`
	Settings    AngleConfig `json:"settings"`
	IsVariation bool        `json:"isVariation"`
}

// NewImageID - 세션 내 유니크 ID 생성 (시간 성분 + 랜덤 성분)
func NewImageID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// SessionStatus - 세션의 전체 생성 상태
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusGenerating SessionStatus = "generating"
	StatusSuccess    SessionStatus = "success"
	StatusError      SessionStatus = "error"
)

// Sentinel errors
var (
	ErrNoImageReturned  = errors.New("no image in API response")
	ErrNoSourceImage    = errors.New("source image is required")
	ErrInvalidBatchSize = errors.New("batch size must be 1, 2 or 4")
	ErrNotFound         = errors.New("history entry not found")
)

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeImageRequired    = "IMAGE_REQUIRED"
	ErrCodeInvalidBatchSize = "INVALID_BATCH_SIZE"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// Task 라벨
const (
	LabelRenderingAngle    = "RENDERING ANGLE..."
	LabelMatchingReference = "MATCHING REFERENCE..."
)

// VariationLabel - n번째 변형 task의 라벨
func VariationLabel(n int) string {
	return fmt.Sprintf("GENERATING VARIATION %d...", n)
}
