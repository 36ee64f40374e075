package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG 디코더 등록
	"log"
	"strings"

	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// MaxTransferEdge - 전송 전 리사이즈 기준 (긴 변 기준 px)
const MaxTransferEdge = 1024

// DecodeDataURL - data URL (data:image/png;base64,...) 또는 순수 base64를 디코딩
// 반환: 이미지 바이너리, MIME 타입 (data URL이 아니면 defaultMime)
func DecodeDataURL(dataURL, defaultMime string) ([]byte, string, error) {
	payload := dataURL
	mimeType := defaultMime

	if strings.HasPrefix(dataURL, "data:") {
		idx := strings.Index(dataURL, ";base64,")
		if idx < 0 {
			return nil, "", fmt.Errorf("unsupported data URL encoding")
		}
		mimeType = dataURL[len("data:"):idx]
		payload = dataURL[idx+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64: %w", err)
	}

	return data, mimeType, nil
}

// ConvertImageToBase64 - 이미지 바이너리를 base64로 변환
func ConvertImageToBase64(imageData []byte) string {
	return base64.StdEncoding.EncodeToString(imageData)
}

// DownscaleForTransfer - 전송용 이미지 축소 (긴 변 maxEdge 이하로, JPEG 재인코딩)
// 이미 충분히 작으면 원본 바이너리를 그대로 반환
func DownscaleForTransfer(imageData []byte, maxEdge int) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxEdge && height <= maxEdge {
		// 리사이즈 불필요
		return imageData, "image/" + format, nil
	}

	newWidth, newHeight := width, height
	if width > height {
		newHeight = height * maxEdge / width
		newWidth = maxEdge
	} else {
		newWidth = width * maxEdge / height
		newHeight = maxEdge
	}

	resized := resizeNearest(img, newWidth, newHeight)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Printf("🔄 Image downscaled for transfer: %dx%d → %dx%d (%d → %d bytes)",
		width, height, newWidth, newHeight, len(imageData), buf.Len())

	return buf.Bytes(), "image/jpeg", nil
}

// resizeNearest - 최근접 샘플링 리사이즈 (전송용 축소에는 충분)
func resizeNearest(src image.Image, width, height int) image.Image {
	srcBounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		srcY := srcBounds.Min.Y + y*srcBounds.Dy()/height
		for x := 0; x < width; x++ {
			srcX := srcBounds.Min.X + x*srcBounds.Dx()/width
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}

	return dst
}

// ConvertToWebP - 이미지 바이너리(PNG/JPEG)를 WebP로 변환
func ConvertToWebP(imageData []byte, quality float32) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()

	log.Printf("✅ Image converted to WebP: %d bytes → %d bytes (%.1f%% reduction)",
		len(imageData), len(webpData),
		float64(len(imageData)-len(webpData))/float64(len(imageData))*100)

	return webpData, nil
}
