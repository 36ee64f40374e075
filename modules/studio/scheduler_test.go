package studio

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestDeriveTasksCount(t *testing.T) {
	base := DefaultAngleConfig()

	for _, size := range []int{1, 2, 4} {
		tasks, err := DeriveTasks(base, size)
		if err != nil {
			t.Fatalf("batchSize %d: unexpected error: %v", size, err)
		}
		if len(tasks) != size {
			t.Errorf("batchSize %d: got %d tasks", size, len(tasks))
		}
		for i, task := range tasks {
			if task.LaunchOrder != i {
				t.Errorf("batchSize %d: task %d has LaunchOrder %d", size, i, task.LaunchOrder)
			}
			if (i == 0) == task.IsVariation {
				t.Errorf("batchSize %d: task %d IsVariation = %v", size, i, task.IsVariation)
			}
		}
	}

	for _, size := range []int{0, 3, 5, -1} {
		if _, err := DeriveTasks(base, size); !errors.Is(err, ErrInvalidBatchSize) {
			t.Errorf("batchSize %d: expected ErrInvalidBatchSize, got %v", size, err)
		}
	}
}

func TestDeriveTasksVariations(t *testing.T) {
	tests := []struct {
		name          string
		baseRotation  int
		baseTilt      int
		wantRotations []int
		wantTilts     []int
	}{
		{
			name:          "centered base",
			baseRotation:  0,
			baseTilt:      -30,
			wantRotations: []int{0, 45, -45, 0},
			wantTilts:     []int{-30, 0, 0, 25},
		},
		{
			name:          "positive wrap",
			baseRotation:  170,
			baseTilt:      10,
			wantRotations: []int{170, 125, 125, 170},
			wantTilts:     []int{10, 0, 0, 25},
		},
		{
			name:          "negative wrap",
			baseRotation:  -170,
			baseTilt:      0,
			wantRotations: []int{-170, -125, -125, -170},
			wantTilts:     []int{0, 0, 0, 25},
		},
		{
			name:          "boundary positive",
			baseRotation:  180,
			baseTilt:      0,
			wantRotations: []int{180, 135, 135, 180},
			wantTilts:     []int{0, 0, 0, 25},
		},
		{
			name:          "no wrap at 135",
			baseRotation:  135,
			baseTilt:      0,
			wantRotations: []int{135, 180, 90, 135},
			wantTilts:     []int{0, 0, 0, 25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := DefaultAngleConfig()
			base.Rotation = tt.baseRotation
			base.Tilt = tt.baseTilt
			base.Zoom = 5
			base.Prompt = "soft light"

			tasks, err := DeriveTasks(base, 4)
			if err != nil {
				t.Fatal(err)
			}

			for i, task := range tasks {
				if task.Settings.Rotation != tt.wantRotations[i] {
					t.Errorf("task %d: rotation = %d, want %d", i, task.Settings.Rotation, tt.wantRotations[i])
				}
				if task.Settings.Tilt != tt.wantTilts[i] {
					t.Errorf("task %d: tilt = %d, want %d", i, task.Settings.Tilt, tt.wantTilts[i])
				}
				// zoom/비율/프롬프트는 변형에서도 유지
				if task.Settings.Zoom != base.Zoom {
					t.Errorf("task %d: zoom = %d, want %d", i, task.Settings.Zoom, base.Zoom)
				}
				if task.Settings.Prompt != base.Prompt {
					t.Errorf("task %d: prompt changed", i)
				}
			}
		})
	}
}

func TestDeriveTasksLabels(t *testing.T) {
	base := DefaultAngleConfig()
	tasks, err := DeriveTasks(base, 4)
	if err != nil {
		t.Fatal(err)
	}

	wantLabels := []string{
		"RENDERING ANGLE...",
		"GENERATING VARIATION 1...",
		"GENERATING VARIATION 2...",
		"GENERATING VARIATION 3...",
	}
	for i, task := range tasks {
		if task.Label != wantLabels[i] {
			t.Errorf("task %d: label = %q, want %q", i, task.Label, wantLabels[i])
		}
	}

	base.ReferenceImage = []byte{1}
	tasks, err = DeriveTasks(base, 2)
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].Label != "MATCHING REFERENCE..." {
		t.Errorf("reference base label = %q", tasks[0].Label)
	}
	if tasks[1].Label != "GENERATING VARIATION 1..." {
		t.Errorf("reference variation label = %q", tasks[1].Label)
	}
}

func TestDeriveTasksDeterministic(t *testing.T) {
	base := DefaultAngleConfig()
	base.Rotation = 60

	a, _ := DeriveTasks(base, 4)
	b, _ := DeriveTasks(base, 4)

	for i := range a {
		if !reflect.DeepEqual(a[i].Settings, b[i].Settings) {
			t.Errorf("task %d: derivation not deterministic", i)
		}
	}
}

// fakeGenerator - 호출을 기록하고 task별 결과를 주입할 수 있는 GenerateFunc
type fakeGenerator struct {
	mu    sync.Mutex
	calls []fakeCall
	// rotation → 에러. 등록되지 않은 회전값은 성공
	failures map[int]error
	// rotation → 응답 지연
	delays map[int]time.Duration
}

type fakeCall struct {
	at  time.Time
	cfg AngleConfig
}

func (f *fakeGenerator) generate(ctx context.Context, source []byte, sourceMime string, cfg AngleConfig) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{at: time.Now(), cfg: cfg})
	f.mu.Unlock()

	if d, ok := f.delays[cfg.Rotation]; ok {
		time.Sleep(d)
	}
	if err, ok := f.failures[cfg.Rotation]; ok {
		return nil, err
	}
	return []byte(fmt.Sprintf("image-rot%d-tilt%d", cfg.Rotation, cfg.Tilt)), nil
}

func (f *fakeGenerator) snapshot() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	sess := NewManager().GetOrCreate("test-session")
	sess.UploadSource([]byte("source-image"), "image/png")
	return sess
}

func TestLaunchBatchRequiresSource(t *testing.T) {
	fake := &fakeGenerator{}
	sc := NewScheduler(fake.generate, 0, nil)
	sess := NewManager().GetOrCreate("empty")

	_, err := sc.LaunchBatch(context.Background(), sess, 1)
	if !errors.Is(err, ErrNoSourceImage) {
		t.Fatalf("expected ErrNoSourceImage, got %v", err)
	}

	status, msg := sess.Status()
	if status != StatusError {
		t.Errorf("status = %q, want %q", status, StatusError)
	}
	if msg == "" {
		t.Error("expected a non-empty error message")
	}
	if len(fake.snapshot()) != 0 {
		t.Error("generator should not be called when launch fails")
	}
}

func TestLaunchBatchInvalidSize(t *testing.T) {
	fake := &fakeGenerator{}
	sc := NewScheduler(fake.generate, 0, nil)
	sess := newTestSession(t)

	_, err := sc.LaunchBatch(context.Background(), sess, 3)
	if !errors.Is(err, ErrInvalidBatchSize) {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
	if status, _ := sess.Status(); status != StatusError {
		t.Errorf("status = %q, want %q", status, StatusError)
	}
}

func TestLaunchBatchFullSuccess(t *testing.T) {
	fake := &fakeGenerator{}
	sc := NewScheduler(fake.generate, time.Millisecond, nil)
	sess := newTestSession(t)

	batch, err := sc.LaunchBatch(context.Background(), sess, 4)
	if err != nil {
		t.Fatal(err)
	}
	events := batch.Wait()

	// task 4개 + batch_completed
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}

	completed := 0
	for _, ev := range events[:4] {
		if ev.Type != EventTaskCompleted {
			t.Errorf("event type = %q, want %q", ev.Type, EventTaskCompleted)
		}
		completed++
		if ev.Completed != completed {
			t.Errorf("completion counter = %d, want %d", ev.Completed, completed)
		}
		if ev.Total != 4 {
			t.Errorf("total = %d, want 4", ev.Total)
		}
	}

	last := events[4]
	if last.Type != EventBatchCompleted {
		t.Errorf("final event type = %q, want %q", last.Type, EventBatchCompleted)
	}
	if last.Completed != 4 || last.Total != 4 {
		t.Errorf("final counters = %d/%d, want 4/4", last.Completed, last.Total)
	}

	if status, _ := sess.Status(); status != StatusSuccess {
		t.Errorf("status = %q, want %q", status, StatusSuccess)
	}
	if got := len(sess.History()); got != 4 {
		t.Errorf("history size = %d, want 4", got)
	}
}

func TestLaunchBatchPartialFailure(t *testing.T) {
	// 변형 1(+45°)만 실패, 나머지는 성공
	fake := &fakeGenerator{
		failures: map[int]error{45: errors.New("model returned no image")},
	}
	sc := NewScheduler(fake.generate, 0, nil)
	sess := newTestSession(t)

	batch, err := sc.LaunchBatch(context.Background(), sess, 4)
	if err != nil {
		t.Fatal(err)
	}
	events := batch.Wait()

	var failed, succeeded int
	for _, ev := range events {
		switch ev.Type {
		case EventTaskFailed:
			failed++
			if ev.Error == "" {
				t.Error("failed event missing error message")
			}
			if ev.ImageID != "" {
				t.Error("failed event should not carry an image ID")
			}
		case EventTaskCompleted:
			succeeded++
			if ev.ImageID == "" {
				t.Error("completed event missing image ID")
			}
		}
	}

	if failed != 1 || succeeded != 3 {
		t.Errorf("failed/succeeded = %d/%d, want 1/3", failed, succeeded)
	}

	// 실패한 task는 히스토리에 남지 않음
	if got := len(sess.History()); got != 3 {
		t.Errorf("history size = %d, want 3", got)
	}

	// 배치는 부분 실패여도 완료 선언됨
	last := events[len(events)-1]
	if last.Type != EventBatchCompleted || last.Completed != 4 {
		t.Errorf("final event = %+v", last)
	}
	if status, _ := sess.Status(); status != StatusSuccess {
		t.Errorf("status = %q, want %q", status, StatusSuccess)
	}
}

func TestLaunchBatchStagger(t *testing.T) {
	const stagger = 30 * time.Millisecond

	fake := &fakeGenerator{}
	sc := NewScheduler(fake.generate, stagger, nil)
	sess := newTestSession(t)

	start := time.Now()
	batch, err := sc.LaunchBatch(context.Background(), sess, 4)
	if err != nil {
		t.Fatal(err)
	}
	batch.Wait()

	calls := fake.snapshot()
	if len(calls) != 4 {
		t.Fatalf("expected 4 generator calls, got %d", len(calls))
	}

	// 발사 시각은 최소 i × stagger 이후
	launchAt := make(map[int]time.Time)
	for _, c := range calls {
		// 4-task 배치에서 설정 조합은 task별로 유일함
		idx := taskIndexFor(t, c.cfg)
		launchAt[idx] = c.at
	}
	for i := 0; i < 4; i++ {
		at, ok := launchAt[i]
		if !ok {
			t.Fatalf("task %d was never launched", i)
		}
		if elapsed := at.Sub(start); elapsed < time.Duration(i)*stagger {
			t.Errorf("task %d launched after %v, want >= %v", i, elapsed, time.Duration(i)*stagger)
		}
	}
}

// taskIndexFor - 기본 설정(rotation 0)의 4-task 배치에서 설정으로 task 인덱스 역산
func taskIndexFor(t *testing.T, cfg AngleConfig) int {
	t.Helper()
	switch {
	case cfg.Rotation == 0 && cfg.Tilt == 0:
		return 0
	case cfg.Rotation == 45:
		return 1
	case cfg.Rotation == -45:
		return 2
	case cfg.Rotation == 0 && cfg.Tilt == 25:
		return 3
	}
	t.Fatalf("unexpected task config: %+v", cfg)
	return -1
}

func TestLaunchBatchAutoSelectsBaseTask(t *testing.T) {
	// task 0이 가장 늦게 해소돼도 선택은 task 0의 결과를 가리켜야 함
	fake := &fakeGenerator{
		delays: map[int]time.Duration{0: 40 * time.Millisecond},
	}
	sc := NewScheduler(fake.generate, 0, nil)
	sess := newTestSession(t)

	batch, err := sc.LaunchBatch(context.Background(), sess, 2)
	if err != nil {
		t.Fatal(err)
	}
	batch.Wait()

	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("history size = %d, want 2", len(history))
	}

	selected := sess.SelectedID()
	if selected == "" {
		t.Fatal("no image selected after batch")
	}
	for _, img := range history {
		if img.ID == selected {
			if img.IsVariation {
				t.Error("selected image is a variation, want the base task result")
			}
			return
		}
	}
	t.Errorf("selected ID %q not found in history", selected)
}

func TestLaunchBatchStaleEpochSkipsSelection(t *testing.T) {
	release := make(chan struct{})
	generate := func(ctx context.Context, source []byte, sourceMime string, cfg AngleConfig) ([]byte, error) {
		<-release
		return []byte("late-result"), nil
	}
	sc := NewScheduler(generate, 0, nil)
	sess := newTestSession(t)

	batch, err := sc.LaunchBatch(context.Background(), sess, 1)
	if err != nil {
		t.Fatal(err)
	}

	// 배치가 진행 중일 때 새 원본 업로드 (epoch 증가, 선택 해제)
	sess.UploadSource([]byte("new-source"), "image/jpeg")
	close(release)
	batch.Wait()

	// 늦게 도착한 결과는 히스토리에는 남지만 선택되지 않음
	if got := len(sess.History()); got != 1 {
		t.Errorf("history size = %d, want 1", got)
	}
	if selected := sess.SelectedID(); selected != "" {
		t.Errorf("stale result was selected: %q", selected)
	}
	// 상태도 stale 배치가 덮어쓰지 않음
	if status, _ := sess.Status(); status != StatusIdle {
		t.Errorf("status = %q, want %q", status, StatusIdle)
	}
}

func TestLaunchBatchNotifiesHub(t *testing.T) {
	var mu sync.Mutex
	var notified []TaskEvent
	notify := func(sessionID string, ev TaskEvent) {
		mu.Lock()
		notified = append(notified, ev)
		mu.Unlock()
		if sessionID != "test-session" {
			t.Errorf("notify sessionID = %q", sessionID)
		}
	}

	fake := &fakeGenerator{}
	sc := NewScheduler(fake.generate, 0, notify)
	sess := newTestSession(t)

	batch, err := sc.LaunchBatch(context.Background(), sess, 2)
	if err != nil {
		t.Fatal(err)
	}
	events := batch.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != len(events) {
		t.Errorf("notified %d events, stream carried %d", len(notified), len(events))
	}
}

func TestLaunchBatchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeGenerator{}
	sc := NewScheduler(fake.generate, time.Hour, nil) // stagger가 커도 취소로 즉시 해소
	sess := newTestSession(t)

	batch, err := sc.LaunchBatch(ctx, sess, 2)
	if err != nil {
		t.Fatal(err)
	}
	events := batch.Wait()

	// task 0은 지연 없이 발사되므로 성공, task 1은 취소로 실패
	var failed int
	for _, ev := range events {
		if ev.Type == EventTaskFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed tasks = %d, want 1", failed)
	}
	if last := events[len(events)-1]; last.Type != EventBatchCompleted {
		t.Errorf("final event type = %q", last.Type)
	}
}
