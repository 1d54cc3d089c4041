package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "poolbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}

	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestStores(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "nested", "poolbot.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })

			ctx := context.Background()
			base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
			for i, action := range []string{"open", "pick", "resend", "close"} {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:      base.Add(time.Duration(i) * time.Minute),
					ChatID:  -100,
					ActorID: 1,
					Action:  action,
					Title:   "Trivia",
					OK:      i,
				}))
			}
			require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: base, ChatID: -200, Action: "open"}))

			got, err := st.RecentAudit(ctx, -100, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "close", got[0].Action)
			assert.Equal(t, "resend", got[1].Action)
			assert.Equal(t, 3, got[0].OK)
			assert.Equal(t, "Trivia", got[0].Title)
			assert.True(t, got[0].At.Equal(base.Add(3*time.Minute)))

			got, err = st.RecentAudit(ctx, -200, 10)
			require.NoError(t, err)
			assert.Len(t, got, 1)

			got, err = st.RecentAudit(ctx, -300, 10)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = st.RecentAudit(ctx, -100, 0)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "a.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	assert.ErrorIs(t, st.AppendAudit(context.Background(), AuditEntry{}), ErrClosed)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{ChatID: 5, Action: "pick"}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.RecentAudit(context.Background(), 5, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pick", got[0].Action)
}
