package studio

import (
	"fmt"
	"log"
	"sync"
	"time"

	"monday-angles-server/modules/common/utils"
)

// Session - 한 스튜디오 세션의 전체 상태 (원본, 라이브 설정, 히스토리, 선택)
// 모든 변경은 단일 뮤텍스 뒤에서 일어남. 배치 task들이 동시에 완료돼도
// appendResult/completeBatch 단위로만 상태를 건드림
type Session struct {
	ID string

	mu           sync.Mutex
	sourceImage  []byte
	sourceMime   string
	live         AngleConfig
	history      []GeneratedImage // 최신이 앞
	selectedID   string           // 비어있으면 원본 표시
	status       SessionStatus
	errorMsg     string
	epoch        int // 원본 업로드마다 증가. in-flight task의 선택 반영 차단용
	createdAt    time.Time
	lastActivity time.Time
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		live:         DefaultAngleConfig(),
		status:       StatusIdle,
		createdAt:    now,
		lastActivity: now,
	}
}

// UploadSource - 새 원본 업로드
// rotation/tilt/zoom/referenceImage/faceLock은 기본값으로 리셋,
// quality/aspectRatio/prompt는 유지. 선택 해제, epoch 증가
func (s *Session) UploadSource(data []byte, mimeType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sourceImage = data
	s.sourceMime = mimeType
	s.selectedID = ""
	s.status = StatusIdle
	s.errorMsg = ""
	s.epoch++

	s.live.Rotation = 0
	s.live.Tilt = 0
	s.live.Zoom = 0
	s.live.ReferenceImage = nil
	s.live.FaceLock = false

	s.lastActivity = time.Now()
	log.Printf("📦 [Studio] Session %s: new source uploaded (%d bytes, %s, epoch %d)",
		s.ID, len(data), mimeType, s.epoch)
}

// LiveConfig - 라이브 설정 스냅샷
func (s *Session) LiveConfig() AngleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// UpdateAngleField - 라이브 설정의 단일 필드 변경
// 숫자 입력은 반올림 후 도메인 범위로 클램프 (텍스트 입력도 방어적으로 클램프)
func (s *Session) UpdateAngleField(field string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	switch field {
	case "rotation":
		v, err := toInt(value)
		if err != nil {
			return err
		}
		s.live.Rotation = clampInt(v, MinRotation, MaxRotation)
	case "tilt":
		v, err := toInt(value)
		if err != nil {
			return err
		}
		s.live.Tilt = clampInt(v, MinTilt, MaxTilt)
	case "zoom":
		v, err := toInt(value)
		if err != nil {
			return err
		}
		s.live.Zoom = clampInt(v, MinZoom, MaxZoom)
	case "aspectRatio":
		v, ok := value.(string)
		if !ok || !ValidAspectRatios[v] {
			return fmt.Errorf("invalid aspect ratio: %v", value)
		}
		s.live.AspectRatio = v
	case "quality":
		v, ok := value.(string)
		if !ok || !IsValidQuality(ImageQuality(v)) {
			return fmt.Errorf("invalid quality: %v", value)
		}
		s.live.Quality = ImageQuality(v)
	case "prompt":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("prompt must be a string")
		}
		s.live.Prompt = v
	case "faceLock":
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("faceLock must be a boolean")
		}
		s.live.FaceLock = v
	case "referenceImage":
		// null 또는 빈 문자열이면 레퍼런스 제거
		if value == nil {
			s.live.ReferenceImage = nil
			return nil
		}
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("referenceImage must be a base64 string or null")
		}
		if v == "" {
			s.live.ReferenceImage = nil
			return nil
		}
		data, _, err := utils.DecodeDataURL(v, "image/jpeg")
		if err != nil {
			return fmt.Errorf("invalid reference image: %w", err)
		}
		s.live.ReferenceImage = data
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	return nil
}

// toInt - JSON 숫자(float64)/정수 입력을 반올림된 정수로 변환
func toInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case float64:
		return roundToInt(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}

// SetPrompt - 캡션 제안 결과를 라이브 prompt에 기록
func (s *Session) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Prompt = prompt
	s.lastActivity = time.Now()
}

// Select - 히스토리 항목 선택 (빈 문자열이면 원본 보기)
func (s *Session) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	if id == "" {
		s.selectedID = ""
		return nil
	}
	for _, img := range s.history {
		if img.ID == id {
			s.selectedID = id
			return nil
		}
	}
	return ErrNotFound
}

// Delete - 히스토리 항목 삭제. 선택된 항목이면 선택 해제
func (s *Session) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	for i, img := range s.history {
		if img.ID == id {
			s.history = append(s.history[:i], s.history[i+1:]...)
			if s.selectedID == id {
				s.selectedID = ""
			}
			return nil
		}
	}
	return ErrNotFound
}

// CurrentDisplay - 현재 표시할 이미지
// 선택된 히스토리 항목 > 원본 > 없음 순
func (s *Session) CurrentDisplay() ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectedID != "" {
		for _, img := range s.history {
			if img.ID == s.selectedID {
				return img.ImageData, "image/png", true
			}
		}
	}
	if s.sourceImage != nil {
		return s.sourceImage, s.sourceMime, true
	}
	return nil, "", false
}

// History - 히스토리 스냅샷 (최신이 앞)
func (s *Session) History() []GeneratedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GeneratedImage, len(s.history))
	copy(out, s.history)
	return out
}

// SelectedID - 현재 선택된 항목 ID (비어있으면 원본 보기)
func (s *Session) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// Status - 세션 상태 + 에러 메시지
func (s *Session) Status() (SessionStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.errorMsg
}

// Source - 원본 이미지 스냅샷
func (s *Session) Source() ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceImage == nil {
		return nil, "", false
	}
	return s.sourceImage, s.sourceMime, true
}

// beginBatch - 배치 시작 스냅샷. 원본이 없으면 에러 상태로 전환
func (s *Session) beginBatch() (source []byte, mimeType string, base AngleConfig, epoch int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	if s.sourceImage == nil {
		s.status = StatusError
		s.errorMsg = "Source image is required"
		return nil, "", AngleConfig{}, 0, ErrNoSourceImage
	}

	s.status = StatusGenerating
	s.errorMsg = ""
	return s.sourceImage, s.sourceMime, s.live, s.epoch, nil
}

// failToStart - 배치가 발사 전에 실패한 경우 (task 실패와 구분되는 상태)
func (s *Session) failToStart(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.errorMsg = msg
}

// appendResult - 완료된 task 결과를 히스토리 앞에 추가
// task 0의 결과는 epoch이 여전히 일치할 때만 자동 선택됨
// (epoch이 바뀐 뒤 도착한 결과도 히스토리에는 남음 - 의도된 동작)
func (s *Session) appendResult(img GeneratedImage, taskIndex, epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append([]GeneratedImage{img}, s.history...)
	if taskIndex == 0 && epoch == s.epoch {
		s.selectedID = img.ID
	}
	s.lastActivity = time.Now()
}

// completeBatch - 모든 task가 해소된 뒤 호출
// 새 원본이 업로드됐으면 (epoch 불일치) 새 세션 상태를 덮어쓰지 않음
func (s *Session) completeBatch(epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch == s.epoch {
		s.status = StatusSuccess
	}
}

// Manager - 세션 관리자
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

// Metrics - 서버 메트릭
type Metrics struct {
	mu             sync.RWMutex
	TotalSessions  int       `json:"totalSessions"`
	ActiveSessions int       `json:"activeSessions"`
	StartTime      time.Time `json:"startTime"`
}

// NewManager - Manager 생성
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		metrics: &Metrics{
			StartTime: time.Now(),
		},
	}
}

// GetOrCreate - 세션 가져오기 또는 생성
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[id]
	if !exists {
		sess = newSession(id)
		m.sessions[id] = sess

		m.metrics.mu.Lock()
		m.metrics.TotalSessions++
		m.metrics.ActiveSessions++
		m.metrics.mu.Unlock()

		log.Printf("✅ [Studio] Created new session: %s (Total: %d, Active: %d)",
			id, m.metrics.TotalSessions, m.metrics.ActiveSessions)
	}

	return sess
}

// Get - 세션 조회 (없으면 nil)
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// CleanupExpired - 오래 쉰 세션 정리 (히스토리가 메모리를 쥐고 있으므로 주기 정리 필요)
func (m *Manager) CleanupExpired(maxIdle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for id, sess := range m.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity)
		sess.mu.Unlock()

		if idle > maxIdle {
			delete(m.sessions, id)
			cleaned++

			m.metrics.mu.Lock()
			m.metrics.ActiveSessions--
			m.metrics.mu.Unlock()

			log.Printf("🧹 [Studio] Cleaned up idle session: %s (idle: %v)", id, idle)
		}
	}

	if cleaned > 0 {
		log.Printf("🗑️  [Studio] Cleaned up %d idle sessions (Active: %d)", cleaned, m.metrics.ActiveSessions)
	}
}

// StartCleanupRoutine - 정기 정리 루틴 시작 (30분 주기, 2시간 idle 기준)
func (m *Manager) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			m.CleanupExpired(2 * time.Hour)
		}
	}()

	log.Printf("🔄 [Studio] Started session cleanup routine (idle: 2h, every 30min)")
}

// Snapshot - /metrics용 메트릭 스냅샷
func (m *Manager) Snapshot() map[string]interface{} {
	m.metrics.mu.RLock()
	total := m.metrics.TotalSessions
	active := m.metrics.ActiveSessions
	start := m.metrics.StartTime
	m.metrics.mu.RUnlock()

	m.mu.RLock()
	sessionDetails := make([]map[string]interface{}, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sess.mu.Lock()
		sessionDetails = append(sessionDetails, map[string]interface{}{
			"sessionId":    id,
			"historySize":  len(sess.history),
			"status":       sess.status,
			"createdAt":    sess.createdAt,
			"lastActivity": sess.lastActivity,
		})
		sess.mu.Unlock()
	}
	m.mu.RUnlock()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"uptime":         time.Since(start).String(),
			"startTime":      start,
			"totalSessions":  total,
			"activeSessions": active,
		},
		"sessions": sessionDetails,
	}
}
