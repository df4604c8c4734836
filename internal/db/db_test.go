package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
)

func TestIsSQLite(t *testing.T) {
	assert.True(t, IsSQLite(":memory:"))
	assert.True(t, IsSQLite("file::memory:?cache=shared"))
	assert.True(t, IsSQLite("./data/mas.db"))
	assert.True(t, IsSQLite("/var/lib/mas.sqlite"))
	assert.False(t, IsSQLite("app:apppass@tcp(127.0.0.1:3306)/mas_assistant?parseTime=true"))
}

func TestConnectAndMigrate(t *testing.T) {
	gdb, err := Connect("file:db_test_connect?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	for _, m := range chat.Models() {
		assert.True(t, gdb.Migrator().HasTable(m), "missing table for %T", m)
	}

	repo := chat.NewRepo(gdb)
	u := &chat.User{Email: "a@b.org", Role: "other", Topic: "ai", Identification: "email"}
	require.NoError(t, repo.UpsertUser(context.Background(), u))
	assert.NotZero(t, u.ID)
}
