package javascript

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// allowedBuiltins are the ECMAScript globals left reachable. Anything else
// the runtime defines is deleted before user code runs.
var allowedBuiltins = map[string]bool{
	"Object": true, "Function": true, "Array": true, "String": true, "Number": true,
	"Boolean": true, "Symbol": true, "BigInt": true, "Math": true, "JSON": true,
	"Date": true, "RegExp": true, "Map": true, "Set": true, "WeakMap": true, "WeakSet": true,
	"Promise": true, "Error": true, "TypeError": true, "RangeError": true,
	"SyntaxError": true, "ReferenceError": true, "EvalError": true, "URIError": true,
	"parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"encodeURI": true, "encodeURIComponent": true, "decodeURI": true, "decodeURIComponent": true,
	"escape": true, "unescape": true,
	"NaN": true, "Infinity": true, "undefined": true, "globalThis": true,
}

// globals is the per-execution allow-list object. It is built fresh for
// every run and installed into that run's runtime only.
type globals struct {
	out    *outputBuffer
	lines  []string
	next   int
	limits limits
}

func newGlobals(out *outputBuffer, input string, lim limits) *globals {
	var lines []string
	if input != "" {
		lines = strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n")
	}
	return &globals{out: out, lines: lines, limits: lim}
}

func (g *globals) install(vm *goja.Runtime) error {
	names, err := vm.RunString("Object.getOwnPropertyNames(globalThis)")
	if err != nil {
		return err
	}
	global := vm.GlobalObject()
	if list, ok := names.Export().([]interface{}); ok {
		for _, n := range list {
			name, _ := n.(string)
			if name == "" || allowedBuiltins[name] {
				continue
			}
			if err := global.Delete(name); err != nil {
				return err
			}
		}
	}
	if err := newGuards(vm, g.limits).install(); err != nil {
		return err
	}

	console := vm.NewObject()
	for _, method := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(method, g.print(vm)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}
	if err := vm.Set("input", strings.Join(g.lines, "\n")); err != nil {
		return err
	}
	return vm.Set("readLine", func() goja.Value {
		if g.next >= len(g.lines) {
			return goja.Null()
		}
		line := g.lines[g.next]
		g.next++
		return vm.ToValue(line)
	})
}

func (g *globals) print(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, format(arg))
		}
		g.out.WriteLine(strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.(*goja.Object); !ok {
		return v.String()
	}
	switch exported := v.Export().(type) {
	case []interface{}, map[string]interface{}:
		if data, err := json.Marshal(exported); err == nil {
			return string(data)
		}
	}
	return v.String()
}

// outputBuffer collects console output up to a byte limit.
type outputBuffer struct {
	mu        sync.Mutex
	b         strings.Builder
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (o *outputBuffer) WriteLine(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.truncated {
		return
	}
	if o.b.Len()+len(s)+1 > o.limit {
		o.truncated = true
		return
	}
	o.b.WriteString(s)
	o.b.WriteByte('\n')
}

func (o *outputBuffer) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.b.String()
}
