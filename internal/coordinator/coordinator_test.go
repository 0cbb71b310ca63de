package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-monitor/internal/shared/cache"
	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
	"exam-monitor/internal/shared/storage/driver/sqlite"
	"exam-monitor/internal/shared/storage/repository"
)

// recordingEvents 记录收到的事件，供断言用
type recordingEvents struct {
	mu           sync.Mutex
	started      []string
	disconnected []string
	ended        []string
	suspicious   []*model.ActivityLogEntry
	screenshots  []*model.Screenshot
}

func (r *recordingEvents) SessionStarted(s *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s.ID)
}

func (r *recordingEvents) SessionDisconnected(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, id)
}

func (r *recordingEvents) SessionEnded(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
}

func (r *recordingEvents) SuspiciousActivity(e *model.ActivityLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspicious = append(r.suspicious, e)
}

func (r *recordingEvents) NewScreenshot(s *model.Screenshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screenshots = append(r.screenshots, s)
}

func (r *recordingEvents) endedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ended)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingEvents, *cache.MemoryPresence) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	// 内存库多连接会各自拿到独立数据库，强制单连接
	db.SetMaxOpenConns(1)
	dialect := sqlite.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	events := &recordingEvents{}
	presence := cache.NewMemoryPresence()
	return New(store, presence, nil, events), events, presence
}

func TestCreateSession(t *testing.T) {
	coord, events, _ := newTestCoordinator(t)
	ctx := context.Background()

	session, created, err := coord.CreateSession(ctx, &CreateSessionRequest{
		StudentID:   "its-1001",
		StudentName: "Alice",
		IPAddress:   "10.0.0.5",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, model.SessionStatusActive, session.Status)
	assert.Equal(t, []string{session.ID}, events.started)

	// 登录活动自动落库
	activities, err := coord.store.ListActivitiesBySession(ctx, session.ID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, model.ActivityTypeLogin, activities[0].Type)
	assert.Equal(t, model.ActorStudent, activities[0].Actor)
}

func TestCreateSessionRequiresStudent(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, _, err := coord.CreateSession(context.Background(), &CreateSessionRequest{})
	assert.ErrorIs(t, err, ErrStudentRequired)
}

func TestCreateSessionWithExistingID(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	session, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)

	// active 会话直接返回，不新建
	same, created, err := coord.CreateSession(ctx, &CreateSessionRequest{
		SessionID: session.ID,
		StudentID: "its-1001",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, session.ID, same.ID)

	// disconnected 会话走重连
	changed, err := coord.MarkDisconnected(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, changed)

	back, created, err := coord.CreateSession(ctx, &CreateSessionRequest{
		SessionID: session.ID,
		StudentID: "its-1001",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.SessionStatusActive, back.Status)

	// ended 会话不可复活
	_, _, err = coord.EndSession(ctx, session.ID, model.ActorStudent)
	require.NoError(t, err)
	_, _, err = coord.CreateSession(ctx, &CreateSessionRequest{
		SessionID: session.ID,
		StudentID: "its-1001",
	})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestEndSessionIdempotent(t *testing.T) {
	coord, events, _ := newTestCoordinator(t)
	ctx := context.Background()

	session, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)

	ended, changed, err := coord.EndSession(ctx, session.ID, "admin-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.SessionStatusEnded, ended.Status)
	require.NotNil(t, ended.EndTime)
	firstEnd := *ended.EndTime

	// 二次结束：无转换、无副作用、end_time 不变
	again, changed, err := coord.EndSession(ctx, session.ID, "admin-2")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, again.EndTime.Equal(firstEnd))
	assert.Equal(t, 1, events.endedCount())

	activities, err := coord.store.ListActivitiesBySession(ctx, session.ID, string(model.ActivityTypeSessionEnded), 10, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "admin-1", activities[0].Actor)
}

func TestEndSessionConcurrent(t *testing.T) {
	coord, events, _ := newTestCoordinator(t)
	ctx := context.Background()

	session, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := coord.EndSession(ctx, session.ID, "admin-1")
			if err != nil {
				return
			}
			if changed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, events.endedCount())
}

func TestEndSessionNotFound(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, _, err := coord.EndSession(context.Background(), "sess-missing", model.ActorStudent)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordActivity(t *testing.T) {
	coord, events, _ := newTestCoordinator(t)
	ctx := context.Background()

	session, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)

	err = coord.RecordActivity(ctx, &model.ActivityLogEntry{
		SessionID:   session.ID,
		Type:        model.ActivityTypeWindowSwitch,
		Description: "switched to calculator",
	})
	require.NoError(t, err)

	err = coord.RecordActivity(ctx, &model.ActivityLogEntry{
		SessionID:   session.ID,
		Type:        model.ActivityTypeSuspicious,
		Description: "multiple monitors detected",
	})
	require.NoError(t, err)
	require.Len(t, events.suspicious, 1)
	assert.Equal(t, "multiple monitors detected", events.suspicious[0].Description)
	// StudentID 由会话补全
	assert.Equal(t, "its-1001", events.suspicious[0].StudentID)

	// 终态会话拒绝上报
	_, _, err = coord.EndSession(ctx, session.ID, model.ActorStudent)
	require.NoError(t, err)
	err = coord.RecordActivity(ctx, &model.ActivityLogEntry{
		SessionID: session.ID,
		Type:      model.ActivityTypeKeypress,
	})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestSaveScreenshotInline(t *testing.T) {
	coord, events, _ := newTestCoordinator(t)
	ctx := context.Background()

	session, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)

	data := []byte("fake-png-bytes")
	shot, err := coord.SaveScreenshot(ctx, session.ID, data, time.Now())
	require.NoError(t, err)
	assert.NotZero(t, shot.ID)
	assert.Empty(t, shot.ObjectKey)
	assert.Equal(t, int64(len(data)), shot.FileSize)
	require.Len(t, events.screenshots, 1)

	stored, err := coord.store.GetScreenshot(ctx, shot.ID)
	require.NoError(t, err)
	assert.Equal(t, data, stored.Data)

	_, _, err = coord.EndSession(ctx, session.ID, model.ActorStudent)
	require.NoError(t, err)
	_, err = coord.SaveScreenshot(ctx, session.ID, data, time.Now())
	assert.ErrorIs(t, err, ErrSessionEnded)
}

type fakeShotStorage struct {
	keys []string
}

func (f *fakeShotStorage) UploadScreenshot(_ context.Context, sessionID string, capturedAt time.Time, _ []byte) (string, error) {
	key := sessionID + "/" + capturedAt.Format("150405.000") + ".png"
	f.keys = append(f.keys, key)
	return key, nil
}

func TestSaveScreenshotObjectStore(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	shots := &fakeShotStorage{}
	coord.shots = shots
	ctx := context.Background()

	session, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)

	shot, err := coord.SaveScreenshot(ctx, session.ID, []byte("bytes"), time.Now())
	require.NoError(t, err)
	require.Len(t, shots.keys, 1)
	assert.Equal(t, shots.keys[0], shot.ObjectKey)
	assert.Nil(t, shot.Data)
}

func TestListActiveSessionsPresence(t *testing.T) {
	coord, _, presence := newTestCoordinator(t)
	ctx := context.Background()

	online, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)
	offline, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1002"})
	require.NoError(t, err)

	require.NoError(t, presence.SetStudentOnline(ctx, online.ID, &cache.ClientPresence{
		SessionID: online.ID,
		StudentID: "its-1001",
	}))

	summaries, err := coord.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := make(map[string]*model.SessionSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.True(t, byID[online.ID].Connected)
	assert.False(t, byID[offline.ID].Connected)
}

func TestGetSessionDetail(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	session, _, err := coord.CreateSession(ctx, &CreateSessionRequest{StudentID: "its-1001"})
	require.NoError(t, err)
	_, err = coord.SaveScreenshot(ctx, session.ID, []byte("bytes"), time.Now())
	require.NoError(t, err)

	detail, err := coord.GetSessionDetail(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, detail.ID)
	// login + screenshot
	assert.Len(t, detail.Activities, 2)
	assert.Len(t, detail.Screenshots, 1)
	assert.Empty(t, detail.Commands)

	_, err = coord.GetSessionDetail(ctx, "sess-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
