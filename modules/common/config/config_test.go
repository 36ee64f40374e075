package config

import "testing"

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error when GEMINI_API_KEY is missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("TASK_STAGGER_MS", "")
	t.Setenv("PORT", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.TaskStaggerMs != 1200 {
		t.Errorf("TaskStaggerMs = %d, want 1200", cfg.TaskStaggerMs)
	}
	if cfg.GeminiImageModel != "gemini-2.5-flash-image" {
		t.Errorf("GeminiImageModel = %q", cfg.GeminiImageModel)
	}
	if cfg.GeminiTextModel != "gemini-2.5-flash" {
		t.Errorf("GeminiTextModel = %q", cfg.GeminiTextModel)
	}
	if !cfg.RedisUseTLS {
		t.Error("RedisUseTLS default should be true")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_USE_TLS", "false")
	t.Setenv("TASK_STAGGER_MS", "250")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.GetRedisAddr() != "redis.internal:6380" {
		t.Errorf("GetRedisAddr() = %q", cfg.GetRedisAddr())
	}
	if cfg.RedisUseTLS {
		t.Error("RedisUseTLS should be disabled")
	}
	if cfg.TaskStaggerMs != 250 {
		t.Errorf("TaskStaggerMs = %d, want 250", cfg.TaskStaggerMs)
	}
}

func TestLoadConfigIgnoresInvalidStagger(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("TASK_STAGGER_MS", "-5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TaskStaggerMs != 1200 {
		t.Errorf("TaskStaggerMs = %d, want default 1200 for negative input", cfg.TaskStaggerMs)
	}
}
