// Package sandbox runs untrusted handler source for one inbound message.
//
// Each invocation gets a fresh interpreter runtime whose only capability is
// replying to the message that triggered it. Compile errors, exceptions,
// panics and deadline overruns are contained here: the chat receives a
// diagnostic reply and the caller receives a typed error for logging.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/internal/logger"
	"github.com/edgard/bothost/internal/provider"
)

// Config bounds a single invocation.
type Config struct {
	// Timeout is the wall-clock budget for one invocation.
	Timeout time.Duration
	// InterruptGrace is how long an interrupted runtime may take to unwind
	// before the invocation is abandoned.
	InterruptGrace time.Duration
	MaxReplies     int
	MaxReplyLength int
	// MaxAbandoned caps runtimes that ignored interruption and are still
	// running. Script runs are refused while the cap is reached.
	MaxAbandoned int
}

// Invocation is one handler run.
type Invocation struct {
	BotID   string
	Trigger string
	Source  string
	Message *provider.Message
	// Release, when set, is called exactly once after every goroutine
	// working for the invocation has exited. For an abandoned runtime that
	// is after Execute has returned.
	Release func()
}

// Executor compiles and runs handler source. It holds no per-invocation
// state and is safe for concurrent use.
type Executor struct {
	cfg       Config
	logger    *slog.Logger
	abandoned atomic.Int64
}

// NewExecutor creates an executor with the given limits.
func NewExecutor(cfg Config, log *slog.Logger) *Executor {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.InterruptGrace <= 0 {
		cfg.InterruptGrace = 500 * time.Millisecond
	}
	if cfg.MaxReplies <= 0 {
		cfg.MaxReplies = 20
	}
	if cfg.MaxReplyLength <= 0 {
		cfg.MaxReplyLength = 4096
	}
	if cfg.MaxAbandoned <= 0 {
		cfg.MaxAbandoned = 4
	}
	return &Executor{cfg: cfg, logger: log.With("component", "sandbox")}
}

// Abandoned returns how many runtimes ignored interruption and have not
// exited yet.
func (e *Executor) Abandoned() int64 {
	return e.abandoned.Load()
}

// Check reports whether source compiles, without running it.
func (e *Executor) Check(source string) error {
	if _, ok := parseDirectives(source); ok {
		return nil
	}
	if _, err := goja.Compile("handler", wrapSource(source), false); err != nil {
		return errs.HandlerFault("compile error", err)
	}
	return nil
}

// Execute runs inv.Source against a context scoped to inv.Message.
//
// A nil return means the handler completed. Otherwise the error matches
// errs.ErrHandlerFault or errs.ErrExecutionTimeout and a diagnostic reply has
// already been attempted, or it wraps ctx.Err() when the caller cancelled
// the invocation (no diagnostic is sent then).
func (e *Executor) Execute(ctx context.Context, inv Invocation) error {
	log := e.logger.With("bot_id", inv.BotID, "trigger", inv.Trigger)
	startTime := time.Now()

	release := inv.Release
	if release == nil {
		release = func() {}
	}
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	rc := &replyCapability{msg: inv.Message, ctx: runCtx, maxReplies: e.cfg.MaxReplies, maxLen: e.cfg.MaxReplyLength}
	defer rc.seal()

	var err error
	if lines, ok := parseDirectives(inv.Source); ok {
		err = e.runDirectives(runCtx, rc, lines)
	} else {
		handedOff, err = e.runScript(runCtx, rc, inv, release)
	}

	log.Debug("Handler finished", "duration", time.Since(startTime), "replies", rc.count.Load(), "error", err)

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("handler cancelled: %w", ctx.Err())
	}

	log.Warn("Handler failed", "category", errs.Category(err), "error", err)
	e.diagnose(ctx, inv, err)
	return err
}

// diagnose sends the failure description to the chat. It bypasses the
// reply limit and uses a fresh deadline since the invocation's may be spent.
func (e *Executor) diagnose(ctx context.Context, inv Invocation, cause error) {
	if inv.Message == nil || inv.Message.Replier == nil {
		return
	}
	text := fmt.Sprintf("⚠️ %s %s: %s", inv.Trigger, errs.Category(cause), errs.Message(cause))
	text = logger.Cut(text, e.cfg.MaxReplyLength)

	replyCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	if err := inv.Message.Reply(replyCtx, text); err != nil {
		e.logger.Error("Failed to send diagnostic reply", "bot_id", inv.BotID, "trigger", inv.Trigger, "error", err)
	}
}

func (e *Executor) runDirectives(ctx context.Context, rc *replyCapability, lines []string) error {
	for _, line := range lines {
		if err := rc.reply(line); err != nil {
			if ctx.Err() != nil {
				return errs.ExecutionTimeout(fmt.Sprintf("handler exceeded %s", e.cfg.Timeout))
			}
			return errs.HandlerFault("reply failed", err)
		}
	}
	return nil
}

// Lifecycle of a script goroutine, decided once by whichever side gets
// there first.
const (
	runActive int32 = iota
	runFinished
	runAbandoned
)

// runScript executes JavaScript source on its own goroutine so that a
// runtime which ignores interruption can be abandoned. When that happens
// handedOff is true and the goroutine calls release once it exits.
func (e *Executor) runScript(ctx context.Context, rc *replyCapability, inv Invocation, release func()) (handedOff bool, err error) {
	if n := e.abandoned.Load(); n >= int64(e.cfg.MaxAbandoned) {
		return false, errs.HandlerFault(fmt.Sprintf("%d runaway handlers still running, try again later", n), nil)
	}

	prog, err := goja.Compile("handler", wrapSource(inv.Source), false)
	if err != nil {
		return false, errs.HandlerFault("compile error", err)
	}

	vm := goja.New()
	done := make(chan error, 1)
	var state atomic.Int32

	go func() {
		defer func() {
			if !state.CompareAndSwap(runActive, runFinished) {
				e.abandoned.Add(-1)
				release()
				e.logger.Info("Abandoned handler runtime exited", "bot_id", inv.BotID, "trigger", inv.Trigger)
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				done <- errs.HandlerFault("handler panicked", fmt.Errorf("%v", r))
			}
		}()
		done <- e.call(vm, prog, rc, inv)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		vm.Interrupt(ctx.Err())
		select {
		case err = <-done:
		case <-time.After(e.cfg.InterruptGrace):
			if state.CompareAndSwap(runActive, runAbandoned) {
				handedOff = true
				n := e.abandoned.Add(1)
				e.logger.Error("Handler ignored interrupt, abandoning runtime",
					"bot_id", inv.BotID, "trigger", inv.Trigger, "abandoned", n)
				err = ctx.Err()
			} else {
				err = <-done
			}
		}
	}

	if err != nil && ctx.Err() != nil {
		// Whatever the runtime reported, the budget ran out underneath it.
		return handedOff, errs.ExecutionTimeout(fmt.Sprintf("handler exceeded %s", e.cfg.Timeout))
	}
	return handedOff, classify(err, e.cfg.Timeout)
}

func (e *Executor) call(vm *goja.Runtime, prog *goja.Program, rc *replyCapability, inv Invocation) error {
	fnVal, err := vm.RunProgram(prog)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return errs.HandlerFault("handler did not compile to a function", nil)
	}
	// Rejections still unhandled once the call returns and the job queue
	// has drained are handler faults.
	var unhandled []*goja.Promise
	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			unhandled = append(unhandled, p)
		case goja.PromiseRejectionHandle:
			for i, u := range unhandled {
				if u == p {
					unhandled = append(unhandled[:i], unhandled[i+1:]...)
					break
				}
			}
		}
	})

	if _, err = fn(goja.Undefined(), newContextObject(vm, rc, inv)); err != nil {
		return err
	}
	if len(unhandled) > 0 {
		return errs.HandlerFault("unhandled rejection: "+rejectionReason(unhandled[0]), nil)
	}
	return nil
}

func rejectionReason(p *goja.Promise) string {
	v := p.Result()
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	return v.String()
}

// classify maps interpreter errors onto the handler error kinds.
func classify(err error, timeout time.Duration) error {
	if err == nil {
		return nil
	}

	var appErr *errs.Error
	if errors.As(err, &appErr) {
		return err
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.ExecutionTimeout(fmt.Sprintf("handler exceeded %s", timeout))
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return errs.HandlerFault(exception.Value().String(), nil)
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return errs.HandlerFault("compile error", err)
	}

	return errs.HandlerFault("handler failed", err)
}

func wrapSource(source string) string {
	return "(function(ctx) {\n" + source + "\n})"
}

// parseDirectives recognizes the plain form where every non-blank line is
// "reply <text>". A bare "reply" has nothing to send and is skipped.
func parseDirectives(source string) ([]string, bool) {
	var out []string
	matched := false
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "reply" {
			matched = true
			continue
		}
		text, ok := strings.CutPrefix(line, "reply ")
		if !ok {
			return nil, false
		}
		matched = true
		out = append(out, strings.TrimSpace(text))
	}
	return out, matched
}

// replyCapability is the only way handler code reaches the outside world.
type replyCapability struct {
	msg        *provider.Message
	ctx        context.Context
	maxReplies int
	maxLen     int

	count  atomic.Int32
	sealed atomic.Bool
}

func (c *replyCapability) reply(text string) error {
	if c.sealed.Load() {
		return errors.New("invocation already finished")
	}
	if c.msg == nil || c.msg.Replier == nil {
		return errors.New("message has no reply channel")
	}
	if int(c.count.Add(1)) > c.maxReplies {
		return fmt.Errorf("reply limit of %d reached", c.maxReplies)
	}
	if err := c.ctx.Err(); err != nil {
		return err
	}
	return c.msg.Reply(c.ctx, logger.Cut(text, c.maxLen))
}

func (c *replyCapability) seal() {
	c.sealed.Store(true)
}
