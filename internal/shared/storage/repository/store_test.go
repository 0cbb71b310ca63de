// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证 repository 层所有存储接口的正确性。
// 无需外部数据库依赖，可在任何环境下运行。
package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
	"exam-monitor/internal/shared/storage/dbutil"
	sqlitedriver "exam-monitor/internal/shared/storage/driver/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	// 内存库多连接会各自拿到独立数据库，强制单连接
	db.SetMaxOpenConns(1)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSession(id string) *model.Session {
	now := time.Now().Truncate(time.Second)
	return &model.Session{
		ID:          id,
		StudentID:   "its-1001",
		StudentName: "张三",
		Status:      model.SessionStatusActive,
		StartTime:   now,
		IPAddress:   "10.0.0.5",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "datetime('now')", d.CurrentTimestamp())
	assert.Equal(t, "1", d.BooleanLiteral(true))
	assert.Equal(t, "0", d.BooleanLiteral(false))
	assert.Equal(t, "date(start_time)", d.DateExpr("start_time"))
}

func TestRebind(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
	// 应去除 PG 类型转换
	assert.Equal(t, "UPDATE t SET status = ? WHERE id = ?",
		d.Rebind("UPDATE t SET status = $1::varchar WHERE id = $2"))
}

// ============================================================================
// Session 测试
// ============================================================================

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := newTestSession("sess-001")
	require.NoError(t, s.CreateSession(ctx, session))

	got, err := s.GetSession(ctx, "sess-001")
	require.NoError(t, err)
	assert.Equal(t, "its-1001", got.StudentID)
	assert.Equal(t, model.SessionStatusActive, got.Status)
	assert.Nil(t, got.EndTime)

	_, err = s.GetSession(ctx, "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sessions, err := s.ListSessions(ctx, "active", 10, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	sessions, err = s.ListSessions(ctx, "ended", 10, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 0)
}

func TestSessionTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-t1")))

	// active → disconnected
	ok, err := s.MarkSessionDisconnected(ctx, "sess-t1")
	require.NoError(t, err)
	assert.True(t, ok)

	// 重复断开：未命中
	ok, err = s.MarkSessionDisconnected(ctx, "sess-t1")
	require.NoError(t, err)
	assert.False(t, ok)

	// disconnected → active
	ok, err = s.ReconnectSession(ctx, "sess-t1")
	require.NoError(t, err)
	assert.True(t, ok)

	// active → ended
	endTime := time.Now().Truncate(time.Second)
	ok, err = s.EndSession(ctx, "sess-t1", endTime)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetSession(ctx, "sess-t1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusEnded, got.Status)
	require.NotNil(t, got.EndTime)

	// 终态不可逆
	ok, err = s.ReconnectSession(ctx, "sess-t1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.MarkSessionDisconnected(ctx, "sess-t1")
	require.NoError(t, err)
	assert.False(t, ok)

	// 重复结束：未命中且 end_time 不变
	ok, err = s.EndSession(ctx, "sess-t1", endTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	again, err := s.GetSession(ctx, "sess-t1")
	require.NoError(t, err)
	assert.Equal(t, got.EndTime.Unix(), again.EndTime.Unix())

	// 不存在的会话
	_, err = s.EndSession(ctx, "nonexistent", endTime)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEndSessionBindsColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-bind")))

	// end_time 取明显早于 now 的时刻，参数一旦错位立即暴露
	endTime := time.Now().Add(-30 * time.Minute).Truncate(time.Second)
	ok, err := s.EndSession(ctx, "sess-bind", endTime)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetSession(ctx, "sess-bind")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusEnded, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, endTime.Unix(), got.EndTime.Unix())
	assert.True(t, got.UpdatedAt.After(*got.EndTime))
}

func TestEndSessionConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-race")))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.EndSession(ctx, "sess-race", time.Now())
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	// 恰好一个调用者完成转换
	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestSessionSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-a")))

	ended := newTestSession("sess-b")
	require.NoError(t, s.CreateSession(ctx, ended))
	_, err := s.EndSession(ctx, "sess-b", time.Now())
	require.NoError(t, err)

	now := time.Now()
	for _, typ := range []model.ActivityType{
		model.ActivityTypeLogin, model.ActivityTypeSuspicious, model.ActivityTypeWindowSwitch,
	} {
		require.NoError(t, s.AppendActivity(ctx, &model.ActivityLogEntry{
			SessionID: "sess-a", StudentID: "its-1001", Type: typ,
			Actor: model.ActorStudent, CreatedAt: now,
		}))
	}
	require.NoError(t, s.CreateScreenshot(ctx, &model.Screenshot{
		SessionID: "sess-a", StudentID: "its-1001", ObjectKey: "sess-a/1.png",
		FileSize: 1024, CapturedAt: now,
	}))

	// ended 会话不出现在活跃列表
	summaries, err := s.ListActiveSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "sess-a", summaries[0].ID)
	assert.Equal(t, 3, summaries[0].ActivityCount)
	assert.Equal(t, 1, summaries[0].ScreenshotCount)
	assert.Equal(t, 1, summaries[0].SuspiciousCount)

	summary, err := s.GetSessionSummary(ctx, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ActivityCount)

	_, err = s.GetSessionSummary(ctx, "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession("sess-s1")
	require.NoError(t, s.CreateSession(ctx, sess))
	_, err := s.EndSession(ctx, "sess-s1", sess.StartTime.Add(30*time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-s2")))

	stats, err := s.SessionStatistics(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	// 日期由 SQL 侧 DateExpr 截断
	assert.Equal(t, time.Now().Format("2006-01-02"), stats[0].Date)
	assert.Equal(t, 2, stats[0].TotalSessions)
	assert.Equal(t, 1, stats[0].ActiveSessions)
	assert.Equal(t, 1, stats[0].EndedSessions)
	assert.InDelta(t, 30.0, stats[0].AvgDurationMinutes, 1.0)
}

// ============================================================================
// Command 测试
// ============================================================================

func newTestCommand(id, sessionID string, createdAt time.Time) *model.Command {
	return &model.Command{
		ID:        id,
		SessionID: sessionID,
		Type:      model.CommandTypeMouseClick,
		Payload:   json.RawMessage(`{"x":10,"y":20}`),
		Status:    model.CommandStatusPending,
		IssuedBy:  "adm-1",
		CreatedAt: createdAt,
	}
}

func TestCommandClaimFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-c1")))

	base := time.Now().Truncate(time.Second)
	for i, id := range []string{"cmd-1", "cmd-2", "cmd-3"} {
		require.NoError(t, s.CreateCommand(ctx, newTestCommand(id, "sess-c1", base.Add(time.Duration(i)*time.Second))))
	}

	// 限额认领：拿到最早的两条
	claimed, err := s.ClaimPendingCommands(ctx, "sess-c1", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "cmd-1", claimed[0].ID)
	assert.Equal(t, "cmd-2", claimed[1].ID)
	assert.Equal(t, model.CommandStatusExecuting, claimed[0].Status)
	require.NotNil(t, claimed[0].ExecutedAt)

	// 再次认领拿到剩下的一条，已认领的不重复投递
	claimed, err = s.ClaimPendingCommands(ctx, "sess-c1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "cmd-3", claimed[0].ID)

	// 队列空
	claimed, err = s.ClaimPendingCommands(ctx, "sess-c1", 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 0)
}

func TestCommandClaimConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-c2")))

	base := time.Now().Truncate(time.Second)
	const total = 20
	for i := 0; i < total; i++ {
		id := "cmd-" + string(rune('a'+i))
		require.NoError(t, s.CreateCommand(ctx, newTestCommand(id, "sess-c2", base.Add(time.Duration(i)*time.Millisecond))))
	}

	const workers = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]int{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimPendingCommands(ctx, "sess-c2", 3)
				assert.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, cmd := range claimed {
					seen[cmd.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 每条指令恰好投递一次
	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "command %s delivered %d times", id, n)
	}
}

func TestFinishCommand(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-c3")))
	require.NoError(t, s.CreateCommand(ctx, newTestCommand("cmd-f1", "sess-c3", time.Now())))

	// pending 状态不能直接完成
	ok, err := s.FinishCommand(ctx, "cmd-f1", model.CommandStatusCompleted, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := s.ClaimPendingCommands(ctx, "sess-c3", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	result := json.RawMessage(`{"clicked":true}`)
	ok, err = s.FinishCommand(ctx, "cmd-f1", model.CommandStatusCompleted, result)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetCommand(ctx, "cmd-f1")
	require.NoError(t, err)
	assert.Equal(t, model.CommandStatusCompleted, got.Status)
	assert.JSONEq(t, `{"clicked":true}`, string(got.Result))

	// 终态不可再改
	ok, err = s.FinishCommand(ctx, "cmd-f1", model.CommandStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ = s.GetCommand(ctx, "cmd-f1")
	assert.Equal(t, model.CommandStatusCompleted, got.Status)
}

func TestFailStaleExecuting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-c4")))
	require.NoError(t, s.CreateCommand(ctx, newTestCommand("cmd-s1", "sess-c4", time.Now())))
	require.NoError(t, s.CreateCommand(ctx, newTestCommand("cmd-s2", "sess-c4", time.Now())))

	claimed, err := s.ClaimPendingCommands(ctx, "sess-c4", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// 阈值在认领之前：不受影响
	n, err := s.FailStaleExecuting(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// 阈值在认领之后：全部置为 failed
	n, err = s.FailStaleExecuting(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := s.GetCommand(ctx, "cmd-s1")
	require.NoError(t, err)
	assert.Equal(t, model.CommandStatusFailed, got.Status)
	assert.Contains(t, string(got.Result), "timed out")
}

// ============================================================================
// Activity 测试
// ============================================================================

func TestActivityAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-a1")))

	now := time.Now().Truncate(time.Second)
	types := []model.ActivityType{
		model.ActivityTypeLogin,
		model.ActivityTypeWindowSwitch,
		model.ActivityTypeSuspicious,
	}
	for _, typ := range types {
		require.NoError(t, s.AppendActivity(ctx, &model.ActivityLogEntry{
			SessionID: "sess-a1", StudentID: "its-1001", Type: typ,
			Description: string(typ), Metadata: json.RawMessage(`{"k":"v"}`),
			Actor: model.ActorStudent, CreatedAt: now,
		}))
	}

	// 按插入顺序返回
	entries, err := s.ListActivitiesBySession(ctx, "sess-a1", "", 100, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, typ := range types {
		assert.Equal(t, typ, entries[i].Type)
	}

	// 类型过滤
	entries, err = s.ListActivitiesBySession(ctx, "sess-a1", "suspicious", 100, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActivityTypeSuspicious, entries[0].Type)

	suspicious, err := s.ListRecentSuspicious(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, suspicious, 1)
}

// ============================================================================
// Screenshot 测试
// ============================================================================

func TestScreenshotStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newTestSession("sess-sc1")))

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.CreateScreenshot(ctx, &model.Screenshot{
		SessionID: "sess-sc1", StudentID: "its-1001",
		Data: []byte{0x89, 0x50, 0x4e, 0x47}, FileSize: 4, CapturedAt: now,
	}))

	shots, err := s.ListScreenshotsBySession(ctx, "sess-sc1", 10, 0)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	// 列表不含字节本体
	assert.Nil(t, shots[0].Data)

	got, err := s.GetScreenshot(ctx, shots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, got.Data)
	assert.False(t, got.Flagged)

	require.NoError(t, s.FlagScreenshot(ctx, shots[0].ID, "multiple faces detected"))
	got, err = s.GetScreenshot(ctx, shots[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Flagged)
	assert.Equal(t, "multiple faces detected", got.FlagReason)
	require.NotNil(t, got.FlaggedAt)

	assert.ErrorIs(t, s.FlagScreenshot(ctx, 9999, "x"), storage.ErrNotFound)
}

// ============================================================================
// Student / Admin 测试
// ============================================================================

func TestStudentUpsertAndConsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	student := &model.Student{
		ITSID: "its-2001", FullName: "李四", Email: "lisi@example.edu",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.UpsertStudent(ctx, student))

	// 同一 its_id 再次写入应更新而不是报错
	student.FullName = "李四（改名）"
	student.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.UpsertStudent(ctx, student))

	got, err := s.GetStudentByITSID(ctx, "its-2001")
	require.NoError(t, err)
	assert.Equal(t, "李四（改名）", got.FullName)
	assert.False(t, got.ConsentGiven)

	require.NoError(t, s.RecordStudentConsent(ctx, "its-2001"))
	got, err = s.GetStudentByITSID(ctx, "its-2001")
	require.NoError(t, err)
	assert.True(t, got.ConsentGiven)
	require.NotNil(t, got.ConsentAt)

	assert.ErrorIs(t, s.RecordStudentConsent(ctx, "nonexistent"), storage.ErrNotFound)

	students, err := s.ListStudents(ctx)
	require.NoError(t, err)
	assert.Len(t, students, 1)
}

func TestAdminStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	admin := &model.AdminUser{
		ID: "adm-001", Username: "proctor1", PasswordHash: "$2a$12$abc",
		FullName: "监考员一号", Role: model.RoleMonitor, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAdminUser(ctx, admin))

	got, err := s.GetAdminByUsername(ctx, "proctor1")
	require.NoError(t, err)
	assert.Equal(t, "adm-001", got.ID)
	assert.Equal(t, model.RoleMonitor, got.Role)
	assert.Nil(t, got.LastLoginAt)

	loginAt := time.Now()
	require.NoError(t, s.UpdateAdminLastLogin(ctx, "adm-001", loginAt))
	got, err = s.GetAdminByID(ctx, "adm-001")
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)

	_, err = s.GetAdminByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	admins, err := s.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Len(t, admins, 1)
}
