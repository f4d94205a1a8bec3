package commands

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"start":          "/start",
		"/start":         "/start",
		" /greet ":       "/greet",
		"/start@HostBot": "/start",
		"":               "",
		"/":              "",
		"@bot":           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Canonical(in), "input %q", in)
	}
}

func TestTable(t *testing.T) {
	t.Parallel()

	t.Run("start falls back to default", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable("online")
		h, ok := tbl.Get("start")
		require.True(t, ok)
		assert.True(t, h.Builtin)
		assert.Equal(t, "reply online", h.Source)
		assert.Equal(t, 0, tbl.Len())
	})

	t.Run("override start", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable("online")
		tbl.Set("start", "reply Hello")
		h, ok := tbl.Get("/start")
		require.True(t, ok)
		assert.False(t, h.Builtin)
		assert.Equal(t, "reply Hello", h.Source)

		assert.True(t, tbl.Remove("/start"))
		h, _ = tbl.Get("start")
		assert.True(t, h.Builtin)
	})

	t.Run("unknown trigger not found", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable("online")
		_, ok := tbl.Get("/nope")
		assert.False(t, ok)
		_, ok = tbl.Get("/ping")
		assert.False(t, ok, "ping is resolved by the session, not the table")
	})

	t.Run("set overwrites and remove reports presence", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable("online")
		tbl.Set("/greet", "a")
		tbl.Set("greet", "b")
		h, ok := tbl.Get("/greet")
		require.True(t, ok)
		assert.Equal(t, "b", h.Source)
		assert.Equal(t, 1, tbl.Len())

		assert.True(t, tbl.Remove("greet"))
		assert.False(t, tbl.Remove("greet"))
		assert.False(t, tbl.Has("/greet"))
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable("online")
		tbl.Set("/a", "1")
		snap := tbl.Snapshot()
		snap["/b"] = "2"
		assert.Equal(t, map[string]string{"/a": "1"}, tbl.Snapshot())
	})

	t.Run("empty trigger ignored", func(t *testing.T) {
		t.Parallel()

		tbl := NewTable("online")
		tbl.Set("/", "x")
		assert.Equal(t, 0, tbl.Len())
	})
}

func TestTableConcurrentReadersSeeWholeEntries(t *testing.T) {
	t.Parallel()

	tbl := NewTable("online")
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tbl.Set("/cmd", fmt.Sprintf("reply %d-%d", w, i))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if h, ok := tbl.Get("/cmd"); ok {
					assert.Regexp(t, `^reply \d+-\d+$`, h.Source)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, tbl.Len())
}
