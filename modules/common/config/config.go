package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Redis (비어있으면 Queue Worker 비활성화)
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Gemini API
	GeminiAPIKey     string
	GeminiImageModel string
	GeminiTextModel  string

	// Server
	Port string

	// Batch 생성 간격 (ms) - 연속 task 사이 stagger
	TaskStaggerMs int
}

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	// Redis UseTLS 파싱
	useTLS := true // 기본값
	if tlsStr := os.Getenv("REDIS_USE_TLS"); tlsStr != "" {
		if parsed, err := strconv.ParseBool(tlsStr); err == nil {
			useTLS = parsed
		}
	}

	// TaskStaggerMs 파싱
	staggerMs := 1200 // 기본값 (1.2초 간격으로 task 발사)
	if staggerStr := os.Getenv("TASK_STAGGER_MS"); staggerStr != "" {
		if parsed, err := strconv.Atoi(staggerStr); err == nil && parsed >= 0 {
			staggerMs = parsed
		}
	}

	globalConfig = &Config{
		// Redis
		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   useTLS,

		// Gemini API
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiTextModel:  getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),

		// Server
		Port: getEnv("PORT", "8080"),

		// Batch
		TaskStaggerMs: staggerMs,
	}

	// 필수 환경변수 검증
	if err := globalConfig.validate(); err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	if globalConfig.RedisHost != "" {
		log.Printf("   Redis: %s:%s (TLS: %v)", globalConfig.RedisHost, globalConfig.RedisPort, globalConfig.RedisUseTLS)
	} else {
		log.Printf("   Redis: not configured (queue worker disabled)")
	}
	log.Printf("   Gemini: %s / %s", globalConfig.GeminiImageModel, globalConfig.GeminiTextModel)
	log.Printf("   Task stagger: %dms", globalConfig.TaskStaggerMs)

	return globalConfig, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	return nil
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
