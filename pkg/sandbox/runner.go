package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/sync/semaphore"

	"codeloop/pkg/object"
	"codeloop/pkg/signals"
	"codeloop/pkg/tool"
	"codeloop/pkg/trace"
)

const deferredSource = `(function () {
	let res, rej;
	const p = new Promise((a, b) => { res = a; rej = b; });
	return { p: p, res: res, rej: rej };
})`

// completion is the result of an asynchronous tool call, delivered to the runtime goroutine.
type completion struct {
	resolve goja.Callable
	reject  goja.Callable
	value   any
	err     error
}

// runner owns one goja runtime. Apart from Interrupt, it is only touched on the goroutine
// that called Run.
type runner struct {
	ctx         context.Context
	vm          *goja.Runtime
	code        string
	lines       []string
	log         *trace.Log
	opts        options
	sem         *semaphore.Weighted
	completions chan completion
	pending     int
	signal      error
	deferred    goja.Callable
	parse       goja.Callable

	// declared are the snippet's top-level variable names; reader returns one by name.
	declared []string
	reader   goja.Callable
}

func newRunner(ctx context.Context, code string, log *trace.Log, o options) *runner {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &runner{
		ctx:         ctx,
		vm:          vm,
		code:        code,
		lines:       strings.Split(code, "\n"),
		log:         log,
		opts:        o,
		sem:         semaphore.NewWeighted(int64(o.maxConcurrent)),
		completions: make(chan completion),
	}
}

func (r *runner) bind(scope *Scope) error {
	deferred, err := r.vm.RunString(deferredSource)
	if err != nil {
		return fmt.Errorf("failed to prepare runtime: %w", err)
	}
	r.deferred, _ = goja.AssertFunction(deferred)

	parse, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("parse"))
	if !ok {
		return fmt.Errorf("failed to prepare runtime: JSON.parse unavailable")
	}
	r.parse = parse

	if err := r.bindConsole(); err != nil {
		return err
	}

	global := r.vm.GlobalObject()
	for name, v := range scope.variables {
		if err := r.vm.Set(name, r.toJS(v)); err != nil {
			return fmt.Errorf("failed to bind variable %s: %w", name, err)
		}
	}
	for name, bt := range scope.tools {
		fn := r.toolFunc(bt.tool, bt.invoke)
		if err := global.DefineDataProperty(name, fn, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return fmt.Errorf("failed to bind tool %s: %w", name, err)
		}
	}
	for name, b := range scope.objects {
		obj, err := r.objectValue(b)
		if err != nil {
			return err
		}
		if err := global.DefineDataProperty(name, obj, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return fmt.Errorf("failed to bind object %s: %w", name, err)
		}
	}
	return nil
}

// objectValue builds a sealed object whose accessors go through the property capabilities.
func (r *runner) objectValue(b *object.Binding) (*goja.Object, error) {
	obj := r.vm.NewObject()
	for _, p := range b.Properties {
		getter := r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return r.toJS(p.Get())
		})
		setter := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			if err := p.TrySet(call.Argument(0).Export()); err != nil {
				panic(r.vm.NewGoError(err))
			}
			return goja.Undefined()
		})
		if err := obj.DefineAccessorProperty(p.Name(), getter, setter, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return nil, fmt.Errorf("failed to bind %s.%s: %w", b.Name, p.Name(), err)
		}
	}
	for _, bt := range b.Tools {
		fn := r.toolFunc(bt.Tool, bt.Invoke)
		if err := obj.DefineDataProperty(bt.Tool.Name, fn, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return nil, fmt.Errorf("failed to bind %s.%s: %w", b.Name, bt.Tool.Name, err)
		}
	}

	seal, ok := goja.AssertFunction(r.vm.Get("Object").ToObject(r.vm).Get("seal"))
	if !ok {
		return nil, fmt.Errorf("failed to seal %s: Object.seal unavailable", b.Name)
	}
	if _, err := seal(goja.Undefined(), obj); err != nil {
		return nil, fmt.Errorf("failed to seal %s: %w", b.Name, err)
	}
	return obj, nil
}

// toolFunc exposes a wrapped tool. Synchronous tools run inline; asynchronous tools return
// a promise settled from the completion queue.
func (r *runner) toolFunc(t *tool.Tool, invoke tool.Invoker) goja.Value {
	return r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		var input any
		if arg := call.Argument(0); !goja.IsUndefined(arg) {
			input = arg.Export()
		}
		line := r.currentLine()

		if !t.Async {
			out, err := invoke(r.ctx, input)
			if err != nil {
				r.raise(err, line)
				panic(r.vm.NewGoError(err))
			}
			return r.toJS(out)
		}

		d, err := r.deferred(goja.Undefined())
		if err != nil {
			panic(r.vm.NewGoError(fmt.Errorf("failed to create promise: %w", err)))
		}
		dobj := d.ToObject(r.vm)
		resolve, _ := goja.AssertFunction(dobj.Get("res"))
		reject, _ := goja.AssertFunction(dobj.Get("rej"))

		r.pending++
		go func() {
			c := completion{resolve: resolve, reject: reject}
			if err := r.sem.Acquire(r.ctx, 1); err != nil {
				c.err = err
			} else {
				c.value, c.err = invoke(r.ctx, input)
				r.sem.Release(1)
			}
			if c.err != nil {
				if intr, ok := signals.AsInterrupt(c.err); ok && intr.TruncatedCode == "" {
					intr.TruncatedCode = r.codeUpTo(line)
				}
			}
			select {
			case r.completions <- c:
			case <-r.ctx.Done():
			}
		}()
		return dobj.Get("p")
	})
}

// settle resolves or rejects the promise of a finished asynchronous call.
func (r *runner) settle(c completion) error {
	var err error
	if c.err != nil {
		if signals.IsSignal(c.err) && r.signal == nil {
			r.signal = c.err
		}
		_, err = c.reject(goja.Undefined(), r.vm.NewGoError(c.err))
	} else {
		_, err = c.resolve(goja.Undefined(), r.toJS(c.value))
	}
	return err
}

// raise records the first signal raised by a tool.
func (r *runner) raise(err error, line int) {
	if r.signal != nil || !signals.IsSignal(err) {
		return
	}
	if intr, ok := signals.AsInterrupt(err); ok && intr.TruncatedCode == "" {
		intr.TruncatedCode = r.codeUpTo(line)
	}
	r.signal = err
}

// currentLine returns the snippet line being executed, or 0.
func (r *runner) currentLine() int {
	for _, frame := range r.vm.CaptureCallStack(0, nil) {
		if frame.SrcName() == programName {
			return frame.Position().Line
		}
	}
	return 0
}

func (r *runner) codeUpTo(line int) string {
	if line <= 0 || line > len(r.lines) {
		return r.code
	}
	return strings.Join(r.lines[:line], "\n")
}

func (r *runner) bindConsole() error {
	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		fn := func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = r.format(arg)
			}
			msg := strings.Join(parts, " ")
			if level != "log" {
				msg = "[" + level + "] " + msg
			}
			r.log.Push(trace.Trace{Kind: trace.KindLog, Message: msg})
			return goja.Undefined()
		}
		if err := console.Set(level, fn); err != nil {
			return fmt.Errorf("failed to bind console.%s: %w", level, err)
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to bind console: %w", err)
	}
	return nil
}

func (r *runner) format(v goja.Value) string {
	if _, isObj := v.(*goja.Object); !isObj {
		return v.String()
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return v.String()
	}
	return string(data)
}

// toJS converts a Go value to plain JavaScript data through JSON so objects behave like
// object literals. Values that cannot be encoded are wrapped by goja as-is.
func (r *runner) toJS(v any) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	switch v.(type) {
	case string, bool, int, int64, float64:
		return r.vm.ToValue(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return r.vm.ToValue(v)
	}
	out, err := r.parse(goja.Undefined(), r.vm.ToValue(string(data)))
	if err != nil {
		return r.vm.ToValue(v)
	}
	return out
}

func (r *runner) setReader(call goja.FunctionCall) goja.Value {
	r.reader, _ = goja.AssertFunction(call.Argument(0))
	return goja.Undefined()
}

// variables reads back the carried variables and the snippet's top-level declarations
// after the run. A declaration shadows a carried variable of the same name. Declarations
// never reached and function values are left out. The runtime must be idle.
func (r *runner) variables(scope *Scope) map[string]any {
	r.vm.ClearInterrupt()

	out := make(map[string]any, len(scope.variables)+len(r.declared))
	for name := range scope.variables {
		out[name] = export(r.vm.Get(name))
	}
	if r.reader == nil {
		return out
	}
	for _, name := range r.declared {
		v, err := r.reader(goja.Undefined(), r.vm.ToValue(name))
		if err != nil {
			continue
		}
		if _, isFn := goja.AssertFunction(v); isFn {
			continue
		}
		out[name] = export(v)
	}
	return out
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	return v.Export()
}
