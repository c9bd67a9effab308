package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leochame/lavis/internal/scheduler"
	"github.com/leochame/lavis/internal/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "lavis-test.db")
	s, err := Open(dbPath, 30, 3)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSkill_InsertThenUpdateIsCaseInsensitiveByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sk := &skills.Skill{Name: "Open Terminal", Description: "opens a terminal", Category: "system", Command: "shell:open -a Terminal"}
	require.NoError(t, s.UpsertSkill(ctx, sk))

	sk2 := &skills.Skill{Name: "OPEN TERMINAL", Description: "updated description", Category: "system", Command: "shell:open -a Terminal"}
	require.NoError(t, s.UpsertSkill(ctx, sk2))

	list, err := s.ListSkills(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "updated description", list[0].Description)
}

func TestTouchSkillUsage_IncrementsCountAndTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sk := &skills.Skill{Name: "summarize", Command: "agent:summarize ${topic}"}
	require.NoError(t, s.UpsertSkill(ctx, sk))

	at := time.Now().Truncate(time.Second)
	require.NoError(t, s.TouchSkillUsage(ctx, "Summarize", at))
	require.NoError(t, s.TouchSkillUsage(ctx, "summarize", at.Add(time.Minute)))

	list, err := s.ListSkills(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UseCount)
}

func TestTouchSkillUsage_UnknownSkillErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.TouchSkillUsage(context.Background(), "does-not-exist", time.Now())
	assert.Error(t, err)
}

func TestListSkills_FiltersByCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSkill(ctx, &skills.Skill{Name: "a", Category: "system", Command: "shell:a"}))
	require.NoError(t, s.UpsertSkill(ctx, &skills.Skill{Name: "b", Category: "dev", Command: "shell:b"}))

	list, err := s.ListSkills(ctx, "system")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Name)
}

func TestSchedulerStore_CreateGetUpdateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	task := &scheduler.Task{ID: "t1", Name: "nightly", Cron: "0 3 * * *", Command: "shell:true", Enabled: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.True(t, got.Enabled)

	got.Enabled = false
	got.RunCount = 3
	got.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpdateTask(ctx, got))

	reloaded, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, reloaded.Enabled)
	assert.Equal(t, 3, reloaded.RunCount)

	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err = s.GetTask(ctx, "t1")
	assert.Error(t, err)
}

func TestSchedulerStore_ListTasksOrdersByCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.CreateTask(ctx, &scheduler.Task{ID: "t1", Name: "first", Cron: "* * * * *", Command: "shell:a", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.CreateTask(ctx, &scheduler.Task{ID: "t2", Name: "second", Cron: "* * * * *", Command: "shell:b", CreatedAt: now.Add(time.Second), UpdatedAt: now}))

	list, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].ID)
	assert.Equal(t, "t2", list[1].ID)
}

func TestSchedulerStore_AppendRunLogAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.CreateTask(ctx, &scheduler.Task{ID: "t1", Name: "t", Cron: "* * * * *", Command: "shell:true", CreatedAt: now, UpdatedAt: now}))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendRunLog(ctx, &scheduler.RunLog{
			ID: "run" + string(rune('0'+i)), TaskID: "t1", StartedAt: now.Add(time.Duration(i) * time.Minute),
			EndedAt: now.Add(time.Duration(i)*time.Minute + time.Second), Status: scheduler.RunSuccess, Output: "ok",
		}))
	}

	history, err := s.History(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.True(t, history[0].StartedAt.After(history[1].StartedAt))
}

func TestSessionMessages_AppendListCountDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, SessionMessage{SessionID: "s1", TurnID: "turn1", Position: 0, Role: "user", Content: "hi", TokenCount: 1}))
	require.NoError(t, s.AppendMessage(ctx, SessionMessage{SessionID: "s1", TurnID: "turn1", Position: 1, Role: "assistant", Content: "hello", TokenCount: 1}))
	require.NoError(t, s.AppendMessage(ctx, SessionMessage{SessionID: "s1", TurnID: "turn2", Position: 0, Role: "user", Content: "again", HasImage: true, TokenCount: 2}))

	count, err := s.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	turn1, err := s.ListMessages(ctx, "s1", "turn1")
	require.NoError(t, err)
	require.Len(t, turn1, 2)
	assert.Equal(t, "hi", turn1[0].Content)
	assert.Equal(t, "hello", turn1[1].Content)

	all, err := s.ListMessages(ctx, "s1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	count, err = s.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPreferences_RoundTripTypes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPreference(ctx, "voice", "en-US-standard"))
	require.NoError(t, s.SetPreference(ctx, "volume", 0.8))
	require.NoError(t, s.SetPreference(ctx, "tts_enabled", true))

	v, ok, err := s.GetPreference(ctx, "voice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "en-US-standard", v)

	v, ok, err = s.GetPreference(ctx, "volume")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.8, v.(float64), 0.0001)

	v, ok, err = s.GetPreference(ctx, "tts_enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, ok, err = s.GetPreference(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.ListPreferences(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeletePreference(ctx, "voice"))
	_, ok, err = s.GetPreference(ctx, "voice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSkillEmbeddings_SetWithoutVecExtensionIsNoopRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSkill(ctx, &skills.Skill{Name: "a", Command: "shell:a"}))
	require.NoError(t, s.SetSkillEmbedding(ctx, "a", []float32{0.1, 0.2, 0.3}))

	matches, err := s.BestMatchSkills(ctx, []float32{0.1, 0.2, 0.3}, 5)
	require.NoError(t, err)
	if !s.vectorExt {
		assert.Nil(t, matches)
	}
}

func TestDurationUntilNextHourUTC(t *testing.T) {
	before := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	d := durationUntilNextHourUTC(before, 3)
	assert.Equal(t, 2*time.Hour, d)

	after := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	d = durationUntilNextHourUTC(after, 3)
	assert.Equal(t, 22*time.Hour, d)
}

func TestListBackups_FiltersByPrefixAndSorts(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "lavis.db")
	for _, suffix := range []string{"20260102-000000", "20260101-000000", "20260103-000000"} {
		f := base + ".backup_" + suffix
		require.NoError(t, os.WriteFile(f, []byte{}, 0o644))
	}
	require.NoError(t, os.WriteFile(base, []byte{}, 0o644)) // live db, not a backup

	names := listBackups(dir, "lavis.db")
	require.Len(t, names, 3)
	assert.True(t, names[0] < names[1] && names[1] < names[2])
}
