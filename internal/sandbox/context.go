package sandbox

import (
	"errors"

	"github.com/dop251/goja"
)

// newContextObject builds the ctx argument handed to handler code:
//
//	ctx.reply(text)   send text to the chat; returns a thenable
//	ctx.trigger       "/name" that selected the handler
//	ctx.args          command arguments
//	ctx.message       {message_id, text, chat: {id}}
//	ctx.from          {id, username, first_name}
//	ctx.chat          {id}
//
// Every value is created on vm, which lives for this invocation only.
func newContextObject(vm *goja.Runtime, rc *replyCapability, inv Invocation) *goja.Object {
	obj := vm.NewObject()

	var (
		text   string
		chatID int64
		msgID  int
		args   = []interface{}{}
		from   = map[string]interface{}{"id": int64(0), "username": "", "first_name": ""}
	)
	if m := inv.Message; m != nil {
		text, chatID, msgID = m.Text, m.ChatID, m.ID
		for _, a := range m.Args {
			args = append(args, a)
		}
		from = map[string]interface{}{
			"id":         m.From.ID,
			"username":   m.From.Username,
			"first_name": m.From.FirstName,
		}
	}

	_ = obj.Set("trigger", inv.Trigger)
	_ = obj.Set("args", vm.NewArray(args...))
	_ = obj.Set("from", vm.ToValue(from))
	_ = obj.Set("chat", vm.ToValue(map[string]interface{}{"id": chatID}))
	_ = obj.Set("message", vm.ToValue(map[string]interface{}{
		"message_id": msgID,
		"text":       text,
		"chat":       map[string]interface{}{"id": chatID},
	}))
	_ = obj.Set("reply", func(call goja.FunctionCall) goja.Value {
		if err := rc.reply(call.Argument(0).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return newThenable(vm)
	})

	return obj
}

// newThenable returns an already-settled thenable so that
// ctx.reply(a).then(() => ctx.reply(b)) runs both replies in order. Replies
// are awaited inside reply itself, so the callback runs synchronously.
func newThenable(vm *goja.Runtime) *goja.Object {
	t := vm.NewObject()
	_ = t.Set("then", func(call goja.FunctionCall) goja.Value {
		cb, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return t
		}
		if _, err := cb(goja.Undefined()); err != nil {
			var ex *goja.Exception
			if errors.As(err, &ex) {
				panic(ex.Value())
			}
			// Interrupts surface here once; re-arm so the outer frame stops too.
			vm.Interrupt(err)
		}
		return newThenable(vm)
	})
	_ = t.Set("catch", func(goja.FunctionCall) goja.Value {
		return t
	})
	return t
}
