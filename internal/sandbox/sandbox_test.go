package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/internal/provider"
)

type recordingReplier struct {
	mu      sync.Mutex
	replies []string
	fail    error
}

func (r *recordingReplier) Reply(ctx context.Context, text string) error {
	if r.fail != nil {
		return r.fail
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return nil
}

func (r *recordingReplier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies...)
}

func newInvocation(trigger, source string) (Invocation, *recordingReplier) {
	rec := &recordingReplier{}
	return Invocation{
		BotID:   "bot-1",
		Trigger: trigger,
		Source:  source,
		Message: &provider.Message{
			ID:      7,
			ChatID:  42,
			From:    provider.Sender{ID: 99, Username: "ana", FirstName: "Ana"},
			Text:    trigger + " one two",
			Trigger: trigger,
			Args:    []string{"one", "two"},
			Replier: rec,
		},
	}, rec
}

func testExecutor(timeout time.Duration) *Executor {
	return NewExecutor(Config{
		Timeout:        timeout,
		InterruptGrace: 200 * time.Millisecond,
		MaxReplies:     5,
		MaxReplyLength: 64,
	}, nil)
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{"directive", "reply Hello", []string{"Hello"}},
		{"multi-line directive", "reply one\n\n  reply two  ", []string{"one", "two"}},
		{"script reply", "ctx.reply('Hello')", []string{"Hello"}},
		{"context fields", "ctx.reply(ctx.trigger + ' ' + ctx.from.username + ' ' + ctx.chat.id + ' ' + ctx.args.join(','))", []string{"/greet ana 42 one,two"}},
		{"message fields", "ctx.reply(ctx.message.text + '|' + ctx.message.message_id)", []string{"/greet one two|7"}},
		{"chained replies in order", "ctx.reply('first').then(function() { ctx.reply('second') })", []string{"first", "second"}},
		{"no ambient capabilities", "ctx.reply(typeof require + ' ' + typeof setTimeout + ' ' + typeof console)", []string{"undefined undefined undefined"}},
		{"reply truncated", "ctx.reply(new Array(100).join('x'))", []string{strings.Repeat("x", 64)}},
		{"handled exception", "try { null.x } catch (e) { ctx.reply('caught') }", []string{"caught"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inv, rec := newInvocation("/greet", tt.source)
			err := testExecutor(time.Second).Execute(context.Background(), inv)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.all())
		})
	}
}

func TestExecuteFaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		source     string
		wantErr    error
		wantPrefix string
		extra      []string
	}{
		{"compile error", "ctx.reply(", errs.ErrHandlerFault, "⚠️ /greet HandlerFault: compile error", nil},
		{"thrown error", "throw new Error('boom')", errs.ErrHandlerFault, "⚠️ /greet HandlerFault: Error: boom", nil},
		{"reference error", "missing()", errs.ErrHandlerFault, "⚠️ /greet HandlerFault: ReferenceError", nil},
		{"unbounded loop", "while (true) {}", errs.ErrExecutionTimeout, "⚠️ /greet ExecutionTimeout: handler exceeded", nil},
		{"reply limit", "for (var i = 0; i < 10; i++) { ctx.reply('x' + i) }", errs.ErrHandlerFault, "⚠️ /greet HandlerFault", []string{"x0", "x1", "x2", "x3", "x4"}},
		{"fault inside then", "ctx.reply('a').then(function() { throw new Error('late') })", errs.ErrHandlerFault, "⚠️ /greet HandlerFault: Error: late", []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inv, rec := newInvocation("/greet", tt.source)
			start := time.Now()
			err := testExecutor(100*time.Millisecond).Execute(context.Background(), inv)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Less(t, time.Since(start), 2*time.Second)

			replies := rec.all()
			require.Len(t, replies, len(tt.extra)+1)
			assert.Equal(t, tt.extra, nilIfEmpty(replies[:len(replies)-1]))
			assert.True(t, strings.HasPrefix(replies[len(replies)-1], tt.wantPrefix),
				"diagnostic %q should start with %q", replies[len(replies)-1], tt.wantPrefix)
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestExecuteIsolatesInvocations(t *testing.T) {
	t.Parallel()

	exec := testExecutor(time.Second)
	src := "counter = (typeof counter === 'undefined' ? 0 : counter) + 1; Object.prototype.leak = 1; ctx.reply(String(counter) + ({}).leak)"

	for i := 0; i < 3; i++ {
		inv, rec := newInvocation("/count", src)
		require.NoError(t, exec.Execute(context.Background(), inv))
		assert.Equal(t, []string{"11"}, rec.all())
	}

	inv, rec := newInvocation("/probe", "ctx.reply(String(({}).leak))")
	require.NoError(t, exec.Execute(context.Background(), inv))
	assert.Equal(t, []string{"undefined"}, rec.all())
}

func TestExecuteCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	inv, rec := newInvocation("/spin", "while (true) {}")
	err := testExecutor(5*time.Second).Execute(ctx, inv)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.all(), "no diagnostic when the caller cancels")
}

func TestExecuteReplyFailure(t *testing.T) {
	t.Parallel()

	inv, rec := newInvocation("/greet", "reply hi")
	rec.fail = errors.New("chat not found")

	err := testExecutor(time.Second).Execute(context.Background(), inv)
	assert.ErrorIs(t, err, errs.ErrHandlerFault)
}

func TestExecuteConcurrent(t *testing.T) {
	t.Parallel()

	exec := testExecutor(time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("var n = %d; ctx.reply(String(n * 2))", i)
			if i%4 == 0 {
				src = "while (true) {}"
			}
			inv, rec := newInvocation("/calc", src)
			err := exec.Execute(context.Background(), inv)
			if i%4 == 0 {
				assert.ErrorIs(t, err, errs.ErrExecutionTimeout)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, []string{fmt.Sprint(i * 2)}, rec.all())
		}(i)
	}
	wg.Wait()
}

func TestCheck(t *testing.T) {
	t.Parallel()

	exec := testExecutor(time.Second)
	assert.NoError(t, exec.Check("reply hi"))
	assert.NoError(t, exec.Check("ctx.reply('hi')"))
	assert.ErrorIs(t, exec.Check("ctx.reply("), errs.ErrHandlerFault)
}

func TestParseDirectives(t *testing.T) {
	t.Parallel()

	lines, ok := parseDirectives("reply a\nreply b c")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b c"}, lines)

	_, ok = parseDirectives("reply a\nctx.reply('b')")
	assert.False(t, ok)
	_, ok = parseDirectives("   ")
	assert.False(t, ok)

	lines, ok = parseDirectives("reply \nreply x")
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, lines)

	lines, ok = parseDirectives("reply")
	require.True(t, ok)
	assert.Empty(t, lines)
}

func TestExecuteBareReplyDirective(t *testing.T) {
	t.Parallel()

	inv, rec := newInvocation("/greet", "reply \nreply x")
	require.NoError(t, testExecutor(time.Second).Execute(context.Background(), inv))
	assert.Equal(t, []string{"x"}, rec.all())
}

func TestExecuteRejectedPromise(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  string
		wantErr bool
		replies []string
	}{
		{
			name:    "async handler throws",
			source:  "(async function () { throw new Error('boom-async') })()",
			wantErr: true,
		},
		{
			name:    "bare rejection",
			source:  "Promise.reject('nope')",
			wantErr: true,
		},
		{
			name:    "rejection handled",
			source:  "Promise.reject(new Error('x')).catch(function () { ctx.reply('caught') })",
			replies: []string{"caught"},
		},
		{
			name:    "async handler awaits reply",
			source:  "(async function () { await ctx.reply('a'); ctx.reply('b') })()",
			replies: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			inv, rec := newInvocation("/async", tt.source)
			err := testExecutor(time.Second).Execute(context.Background(), inv)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.replies, rec.all())
				return
			}
			assert.ErrorIs(t, err, errs.ErrHandlerFault)
			replies := rec.all()
			require.Len(t, replies, 1)
			assert.True(t, strings.HasPrefix(replies[0], "⚠️ /async HandlerFault: unhandled rejection"), replies[0])
		})
	}
}

// blockingReplier never returns from Reply("hang") until released, the way
// a native call the interpreter cannot interrupt behaves.
type blockingReplier struct {
	recordingReplier
	unblock chan struct{}
}

func (b *blockingReplier) Reply(ctx context.Context, text string) error {
	if text == "hang" {
		<-b.unblock
		return nil
	}
	return b.recordingReplier.Reply(ctx, text)
}

func TestExecuteAbandonedRuntimesAreBounded(t *testing.T) {
	t.Parallel()

	exec := NewExecutor(Config{
		Timeout:        50 * time.Millisecond,
		InterruptGrace: 50 * time.Millisecond,
		MaxReplies:     5,
		MaxReplyLength: 200,
		MaxAbandoned:   2,
	}, nil)

	rep := &blockingReplier{unblock: make(chan struct{})}
	var released sync.WaitGroup

	run := func() (*atomic.Bool, error) {
		inv, _ := newInvocation("/hang", "ctx.reply('hang')")
		inv.Message.Replier = rep
		done := &atomic.Bool{}
		released.Add(1)
		inv.Release = func() {
			assert.False(t, done.Swap(true), "released twice")
			released.Done()
		}
		return done, exec.Execute(context.Background(), inv)
	}

	var flags []*atomic.Bool
	for range 2 {
		rel, err := run()
		assert.ErrorIs(t, err, errs.ErrExecutionTimeout)
		assert.False(t, rel.Load(), "slot must stay held while the runtime runs")
		flags = append(flags, rel)
	}
	assert.Equal(t, int64(2), exec.Abandoned())

	// The cap is reached: the next script is refused without starting a runtime.
	rel, err := run()
	assert.ErrorIs(t, err, errs.ErrHandlerFault)
	assert.True(t, rel.Load())
	assert.Equal(t, int64(2), exec.Abandoned())

	close(rep.unblock)
	released.Wait()
	for _, f := range flags {
		assert.True(t, f.Load())
	}
	assert.Equal(t, int64(0), exec.Abandoned())

	// Capacity is back.
	inv, rec := newInvocation("/ok", "ctx.reply('fine')")
	require.NoError(t, exec.Execute(context.Background(), inv))
	assert.Equal(t, []string{"fine"}, rec.all())
}

func TestExecuteReleasesOnCompletion(t *testing.T) {
	t.Parallel()

	for _, src := range []string{"reply hi", "ctx.reply('hi')", "throw new Error('x')", "while (true) {}"} {
		inv, _ := newInvocation("/r", src)
		var calls atomic.Int32
		inv.Release = func() { calls.Add(1) }
		_ = testExecutor(100*time.Millisecond).Execute(context.Background(), inv)
		assert.Equal(t, int32(1), calls.Load(), src)
	}
}
