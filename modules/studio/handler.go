package studio

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"monday-angles-server/modules/common/utils"
)

// Handler - 스튜디오 HTTP 핸들러
type Handler struct {
	manager   *Manager
	service   *Service
	scheduler *Scheduler
}

// NewHandler - Handler 생성
func NewHandler(manager *Manager, service *Service, scheduler *Scheduler) *Handler {
	return &Handler{
		manager:   manager,
		service:   service,
		scheduler: scheduler,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/studio/source", h.HandleUploadSource).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/config", h.HandleUpdateConfig).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/history", h.HandleHistory).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/studio/history/{id}", h.HandleDeleteHistory).Methods("DELETE", "OPTIONS")
	r.HandleFunc("/api/studio/select", h.HandleSelect).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/display", h.HandleDisplay).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/studio/suggest-prompt", h.HandleSuggestPrompt).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/status", h.HandleStatus).Methods("GET", "OPTIONS")
	log.Println("✅ Studio routes registered")
}

// --- Request/Response 구조체 ---

// UploadSourceRequest - 원본 업로드 요청
type UploadSourceRequest struct {
	SessionID string `json:"sessionId"`
	Image     string `json:"image"` // data URL 또는 base64
	MimeType  string `json:"mimeType,omitempty"`
}

// UpdateConfigRequest - 라이브 설정 필드 변경 요청
type UpdateConfigRequest struct {
	SessionID string      `json:"sessionId"`
	Field     string      `json:"field"`
	Value     interface{} `json:"value"`
}

// GenerateRequest - 배치 생성 요청
type GenerateRequest struct {
	SessionID string `json:"sessionId"`
	BatchSize int    `json:"batchSize"`
}

// TaskResultItem - task 하나의 결과
type TaskResultItem struct {
	TaskIndex    int    `json:"taskIndex"`
	Label        string `json:"label"`
	Success      bool   `json:"success"`
	ImageID      string `json:"imageId,omitempty"`
	ImageBase64  string `json:"imageBase64,omitempty"`
	IsVariation  bool   `json:"isVariation"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// GenerateResponse - 배치 생성 응답
type GenerateResponse struct {
	Success      bool             `json:"success"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	ErrorCode    string           `json:"errorCode,omitempty"`
	Status       SessionStatus    `json:"status,omitempty"`
	Results      []TaskResultItem `json:"results,omitempty"`
	TotalTasks   int              `json:"totalTasks,omitempty"`
	SuccessCount int              `json:"successCount,omitempty"`
}

// HistoryItem - 히스토리 항목 응답
type HistoryItem struct {
	ID          string      `json:"id"`
	ImageBase64 string      `json:"imageBase64"`
	CreatedAt   time.Time   `json:"createdAt"`
	Settings    AngleConfig `json:"settings"`
	IsVariation bool        `json:"isVariation"`
}

// HistoryResponse - 히스토리 조회 응답
type HistoryResponse struct {
	Success    bool          `json:"success"`
	Items      []HistoryItem `json:"items"`
	SelectedID string        `json:"selectedId,omitempty"`
	Status     SessionStatus `json:"status"`
}

// SelectRequest - 히스토리 선택 요청 (ID 비우면 원본 보기)
type SelectRequest struct {
	SessionID string `json:"sessionId"`
	ID        string `json:"id"`
}

// SuggestPromptRequest - 캡션 제안 요청
type SuggestPromptRequest struct {
	SessionID string `json:"sessionId"`
}

// SuggestPromptResponse - 캡션 제안 응답
type SuggestPromptResponse struct {
	Success      bool   `json:"success"`
	Prompt       string `json:"prompt,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
}

// StatusResponse - 세션 상태 응답
type StatusResponse struct {
	Success      bool          `json:"success"`
	Status       SessionStatus `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Config       AngleConfig   `json:"config"`
	HistorySize  int           `json:"historySize"`
	HasSource    bool          `json:"hasSource"`
}

// ErrorResponse - 공통 에러 응답
type ErrorResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
}

// setCORS - CORS 헤더 설정, OPTIONS면 true 반환
func setCORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

// writeJSON - JSON 응답 쓰기
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// HandleUploadSource - POST /api/studio/source
func (h *Handler) HandleUploadSource(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	var req UploadSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ [Studio] Invalid upload request: %v", err)
		writeJSON(w, ErrorResponse{ErrorMessage: "Invalid request format", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, ErrorResponse{ErrorMessage: "sessionId is required", ErrorCode: ErrCodeInvalidRequest})
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		writeJSON(w, ErrorResponse{ErrorMessage: "Source image is required", ErrorCode: ErrCodeImageRequired})
		return
	}

	defaultMime := req.MimeType
	if defaultMime == "" {
		defaultMime = "image/jpeg"
	}
	data, mimeType, err := utils.DecodeDataURL(req.Image, defaultMime)
	if err != nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Failed to decode source image", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	sess := h.manager.GetOrCreate(req.SessionID)
	sess.UploadSource(data, mimeType)

	writeJSON(w, StatusResponse{
		Success:     true,
		Status:      StatusIdle,
		Config:      sess.LiveConfig(),
		HistorySize: len(sess.History()),
		HasSource:   true,
	})
}

// HandleUpdateConfig - POST /api/studio/config
func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Invalid request format", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	sess := h.manager.Get(req.SessionID)
	if sess == nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	if err := sess.UpdateAngleField(req.Field, req.Value); err != nil {
		writeJSON(w, ErrorResponse{ErrorMessage: err.Error(), ErrorCode: ErrCodeInvalidRequest})
		return
	}

	cfg := sess.LiveConfig()
	writeJSON(w, map[string]interface{}{
		"success": true,
		"config":  cfg,
	})
}

// HandleGenerate - POST /api/studio/generate
// 배치를 발사하고 모든 task가 해소될 때까지 기다린 뒤 응답 (동기 경로)
// 진행 이벤트는 /ws 구독으로도 받을 수 있음
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, GenerateResponse{ErrorMessage: "Invalid request format", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	sess := h.manager.Get(req.SessionID)
	if sess == nil {
		writeJSON(w, GenerateResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = 1
	}

	batch, err := h.scheduler.LaunchBatch(r.Context(), sess, batchSize)
	if err != nil {
		resp := GenerateResponse{ErrorMessage: err.Error(), Status: StatusError}
		switch {
		case errors.Is(err, ErrNoSourceImage):
			resp.ErrorCode = ErrCodeImageRequired
		case errors.Is(err, ErrInvalidBatchSize):
			resp.ErrorCode = ErrCodeInvalidBatchSize
		default:
			resp.ErrorCode = ErrCodeInternalError
		}
		writeJSON(w, resp)
		return
	}

	events := batch.Wait()

	// 히스토리에서 이미지 바이너리 조회용 맵
	imageByID := make(map[string][]byte)
	for _, img := range sess.History() {
		imageByID[img.ID] = img.ImageData
	}

	results := make([]TaskResultItem, 0, len(batch.Tasks))
	successCount := 0
	for _, ev := range events {
		switch ev.Type {
		case EventTaskCompleted:
			successCount++
			results = append(results, TaskResultItem{
				TaskIndex:   ev.TaskIndex,
				Label:       ev.Label,
				Success:     true,
				ImageID:     ev.ImageID,
				ImageBase64: utils.ConvertImageToBase64(imageByID[ev.ImageID]),
				IsVariation: ev.IsVariation,
			})
		case EventTaskFailed:
			results = append(results, TaskResultItem{
				TaskIndex:    ev.TaskIndex,
				Label:        ev.Label,
				Success:      false,
				IsVariation:  ev.TaskIndex > 0,
				ErrorMessage: ev.Error,
			})
		}
	}

	status, _ := sess.Status()
	writeJSON(w, GenerateResponse{
		Success:      true,
		Status:       status,
		Results:      results,
		TotalTasks:   len(batch.Tasks),
		SuccessCount: successCount,
	})
}

// HandleHistory - GET /api/studio/history?session=xxx
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	sess := h.manager.Get(r.URL.Query().Get("session"))
	if sess == nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	history := sess.History()
	items := make([]HistoryItem, 0, len(history))
	for _, img := range history {
		items = append(items, HistoryItem{
			ID:          img.ID,
			ImageBase64: utils.ConvertImageToBase64(img.ImageData),
			CreatedAt:   img.CreatedAt,
			Settings:    img.Settings,
			IsVariation: img.IsVariation,
		})
	}

	status, _ := sess.Status()
	writeJSON(w, HistoryResponse{
		Success:    true,
		Items:      items,
		SelectedID: sess.SelectedID(),
		Status:     status,
	})
}

// HandleDeleteHistory - DELETE /api/studio/history/{id}?session=xxx
func (h *Handler) HandleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	sess := h.manager.Get(r.URL.Query().Get("session"))
	if sess == nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	id := mux.Vars(r)["id"]
	if err := sess.Delete(id); err != nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "History entry not found", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	writeJSON(w, map[string]interface{}{"success": true})
}

// HandleSelect - POST /api/studio/select
func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Invalid request format", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	sess := h.manager.Get(req.SessionID)
	if sess == nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	if err := sess.Select(req.ID); err != nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "History entry not found", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	writeJSON(w, map[string]interface{}{"success": true, "selectedId": req.ID})
}

// HandleDisplay - GET /api/studio/display?session=xxx&format=webp
// 현재 표시 이미지를 바이너리로 반환 (다운로드용, format=webp면 WebP 변환)
func (h *Handler) HandleDisplay(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	sess := h.manager.Get(r.URL.Query().Get("session"))
	if sess == nil {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, ErrorResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	data, mimeType, ok := sess.CurrentDisplay()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, ErrorResponse{ErrorMessage: "Nothing to display", ErrorCode: ErrCodeImageRequired})
		return
	}

	if r.URL.Query().Get("format") == "webp" {
		webpData, err := utils.ConvertToWebP(data, 90.0)
		if err != nil {
			log.Printf("⚠️ [Studio] WebP conversion failed, serving original: %v", err)
		} else {
			data, mimeType = webpData, "image/webp"
		}
	}

	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleSuggestPrompt - POST /api/studio/suggest-prompt
// 원본 이미지 캡션을 제안받아 라이브 prompt에 기록
func (h *Handler) HandleSuggestPrompt(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	if h.service == nil {
		log.Println("❌ [Studio] Service not initialized")
		writeJSON(w, SuggestPromptResponse{ErrorMessage: "Service unavailable", ErrorCode: ErrCodeInternalError})
		return
	}

	var req SuggestPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, SuggestPromptResponse{ErrorMessage: "Invalid request format", ErrorCode: ErrCodeInvalidRequest})
		return
	}

	sess := h.manager.Get(req.SessionID)
	if sess == nil {
		writeJSON(w, SuggestPromptResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	source, mimeType, ok := sess.Source()
	if !ok {
		writeJSON(w, SuggestPromptResponse{ErrorMessage: "Source image is required", ErrorCode: ErrCodeImageRequired})
		return
	}

	// 실패해도 fallback 캡션이 돌아옴
	caption := h.service.RequestCaption(r.Context(), source, mimeType)
	sess.SetPrompt(caption)

	writeJSON(w, SuggestPromptResponse{Success: true, Prompt: caption})
}

// HandleStatus - GET /api/studio/status?session=xxx
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if setCORS(w, r) {
		return
	}

	sess := h.manager.Get(r.URL.Query().Get("session"))
	if sess == nil {
		writeJSON(w, ErrorResponse{ErrorMessage: "Session not found", ErrorCode: ErrCodeSessionNotFound})
		return
	}

	status, errorMsg := sess.Status()
	_, _, hasSource := sess.Source()
	writeJSON(w, StatusResponse{
		Success:      true,
		Status:       status,
		ErrorMessage: errorMsg,
		Config:       sess.LiveConfig(),
		HistorySize:  len(sess.History()),
		HasSource:    hasSource,
	})
}
