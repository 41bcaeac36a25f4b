package javascript

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

type limits struct {
	maxString int64
	maxArray  int64
}

// guards swaps builtins that can generate code or do unbounded native work
// for wrappers that check their arguments first. Only the wrappers hold the
// originals. Arguments are converted once and the converted values are passed
// on, so user valueOf and toString hooks cannot answer differently twice.
type guards struct {
	vm        *goja.Runtime
	limits    limits
	rangeErr  goja.Constructor
	syntaxErr goja.Constructor
}

func newGuards(vm *goja.Runtime, lim limits) *guards {
	return &guards{vm: vm, limits: lim}
}

func (g *guards) install() error {
	global := g.vm.GlobalObject()
	var err error
	if g.rangeErr, err = g.constructor(global, "RangeError"); err != nil {
		return err
	}
	if g.syntaxErr, err = g.constructor(global, "SyntaxError"); err != nil {
		return err
	}
	for _, step := range []func() error{
		g.stubFunctionConstructors,
		g.guardRegExp,
		g.guardStrings,
		g.guardArrays,
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// functionPrototypes lists prototypes whose constructor compiles source text.
var functionPrototypes = []string{
	"Object.getPrototypeOf(function*(){})",
	"Object.getPrototypeOf(async function(){})",
	"Object.getPrototypeOf(async function*(){})",
}

func (g *guards) stubFunctionConstructors() error {
	global := g.vm.GlobalObject()
	function, err := g.object(global, "Function")
	if err != nil {
		return err
	}
	proto, err := g.object(function, "prototype")
	if err != nil {
		return err
	}

	stub := g.vm.ToValue(func(goja.FunctionCall) goja.Value {
		panic(g.vm.NewTypeError("code generation from strings is not allowed"))
	}).(*goja.Object)
	if err := stub.DefineDataProperty("name", g.vm.ToValue("Function"), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}
	if err := stub.DefineDataProperty("prototype", proto, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return err
	}

	protos := []*goja.Object{proto}
	for _, expr := range functionPrototypes {
		// Kinds the interpreter cannot parse have no constructor to reach.
		v, err := g.vm.RunString(expr)
		if err != nil {
			continue
		}
		if obj, ok := v.(*goja.Object); ok {
			protos = append(protos, obj)
		}
	}
	for _, p := range protos {
		if err := p.DefineDataProperty("constructor", stub, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			return err
		}
	}
	return global.DefineDataProperty("Function", stub, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

// guardRegExp keeps patterns away from the backtracking engine. Literals are
// screened by Validate; every runtime path that compiles a string is wrapped.
func (g *guards) guardRegExp() error {
	global := g.vm.GlobalObject()
	original, err := g.object(global, "RegExp")
	if err != nil {
		return err
	}
	construct, ok := goja.AssertConstructor(original)
	if !ok {
		return errors.New("RegExp is not a constructor")
	}
	proto, err := g.object(original, "prototype")
	if err != nil {
		return err
	}

	wrapper := g.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		args := append([]goja.Value(nil), call.Arguments...)
		if len(args) > 0 {
			args[0] = g.pattern(args[0])
		}
		obj, err := construct(call.NewTarget, args...)
		if err != nil {
			panic(err)
		}
		return obj
	}).(*goja.Object)
	if err := wrapper.DefineDataProperty("name", g.vm.ToValue("RegExp"), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}
	if err := wrapper.DefineDataProperty("prototype", proto, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return err
	}
	if err := proto.DefineDataProperty("constructor", wrapper, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}
	if err := proto.Delete("compile"); err != nil {
		return err
	}
	// Species lookups in split and matchAll rebuild a RegExp from the
	// receiver's source, so the receiver must be a real RegExp.
	for _, sym := range []*goja.Symbol{goja.SymSplit, goja.SymMatchAll} {
		if err := g.requireRegExpReceiver(proto, sym); err != nil {
			return err
		}
	}
	if err := global.DefineDataProperty("RegExp", wrapper, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}

	stringCtor, err := g.object(global, "String")
	if err != nil {
		return err
	}
	strProto, err := g.object(stringCtor, "prototype")
	if err != nil {
		return err
	}
	for name, sym := range map[string]*goja.Symbol{
		"match":    goja.SymMatch,
		"matchAll": goja.SymMatchAll,
		"search":   goja.SymSearch,
	} {
		if err := g.guardMatcher(strProto, name, sym); err != nil {
			return err
		}
	}
	return nil
}

func (g *guards) requireRegExpReceiver(proto *goja.Object, sym *goja.Symbol) error {
	orig, ok := goja.AssertFunction(proto.GetSymbol(sym))
	if !ok {
		return fmt.Errorf("RegExp.prototype[%s] is not a function", sym)
	}
	fn := g.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if !isClass(call.This, "RegExp") {
			panic(g.vm.NewTypeError("RegExp.prototype[%s] called on incompatible receiver", sym.String()))
		}
		return g.call(orig, call.This, call.Arguments...)
	})
	return proto.DefineDataPropertySymbol(sym, fn, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

// guardMatcher wraps a String.prototype method that turns a string argument
// into a RegExp.
func (g *guards) guardMatcher(proto *goja.Object, name string, sym *goja.Symbol) error {
	orig, err := g.function(proto, name)
	if err != nil {
		return err
	}
	return g.replace(proto, name, func(call goja.FunctionCall) goja.Value {
		if goja.IsUndefined(call.This) || goja.IsNull(call.This) {
			panic(g.vm.NewTypeError("String.prototype.%s called on null or undefined", name))
		}
		arg := call.Argument(0)
		if isClass(arg, "RegExp") || goja.IsUndefined(arg) || goja.IsNull(arg) {
			return g.call(orig, call.This, arg)
		}
		if obj, ok := arg.(*goja.Object); ok {
			if m, ok := goja.AssertFunction(obj.GetSymbol(sym)); ok {
				return g.call(m, obj, g.vm.ToValue(call.This.String()))
			}
		}
		return g.call(orig, call.This, g.pattern(arg))
	})
}

// pattern returns v converted to a checked pattern source. RegExp objects
// pass through since their source was checked when they were built.
func (g *guards) pattern(v goja.Value) goja.Value {
	if isClass(v, "RegExp") || goja.IsUndefined(v) {
		return v
	}
	src := v.String()
	if backtracks(src) {
		g.throw(g.syntaxErr, "regular expressions with lookaround, named groups or backreferences are not supported: /%s/", src)
	}
	return g.vm.ToValue(src)
}

// backtracks reports whether goja would compile src with regexp2.
func backtracks(src string) bool {
	_, err := parser.TransformRegExp(src)
	var incompatible parser.RegexpErrorIncompatible
	return errors.As(err, &incompatible)
}

func (g *guards) guardStrings() error {
	stringCtor, err := g.object(g.vm.GlobalObject(), "String")
	if err != nil {
		return err
	}
	proto, err := g.object(stringCtor, "prototype")
	if err != nil {
		return err
	}

	repeat, err := g.function(proto, "repeat")
	if err != nil {
		return err
	}
	if err := g.replace(proto, "repeat", func(call goja.FunctionCall) goja.Value {
		s := g.thisString(call.This, "repeat")
		count := call.Argument(0).ToNumber()
		if n := count.ToFloat(); n >= 1 && float64(len(s))*n > float64(g.limits.maxString) {
			g.throw(g.rangeErr, "repeat result exceeds %d characters", g.limits.maxString)
		}
		return g.call(repeat, g.vm.ToValue(s), count)
	}); err != nil {
		return err
	}

	for _, name := range []string{"padStart", "padEnd"} {
		if err := g.guardPad(proto, name); err != nil {
			return err
		}
	}
	return nil
}

func (g *guards) guardPad(proto *goja.Object, name string) error {
	orig, err := g.function(proto, name)
	if err != nil {
		return err
	}
	return g.replace(proto, name, func(call goja.FunctionCall) goja.Value {
		s := g.thisString(call.This, name)
		target := call.Argument(0).ToNumber()
		if target.ToFloat() > float64(g.limits.maxString) {
			g.throw(g.rangeErr, "%s result exceeds %d characters", name, g.limits.maxString)
		}
		fill := call.Argument(1)
		if !goja.IsUndefined(fill) {
			fill = g.vm.ToValue(fill.String())
		}
		return g.call(orig, g.vm.ToValue(s), target, fill)
	})
}

func (g *guards) guardArrays() error {
	array, err := g.object(g.vm.GlobalObject(), "Array")
	if err != nil {
		return err
	}
	proto, err := g.object(array, "prototype")
	if err != nil {
		return err
	}

	join, err := g.function(proto, "join")
	if err != nil {
		return err
	}
	if err := g.replace(proto, "join", func(call goja.FunctionCall) goja.Value {
		arr, n := g.arrayLike(call.This)
		sep, sepLen := call.Argument(0), int64(1)
		if !goja.IsUndefined(sep) {
			s := sep.String()
			sep, sepLen = g.vm.ToValue(s), int64(len(s))
		}
		if n > 1 && float64(n-1)*float64(sepLen) > float64(g.limits.maxString) {
			g.throw(g.rangeErr, "join result exceeds %d characters", g.limits.maxString)
		}
		return g.call(join, arr, sep)
	}); err != nil {
		return err
	}

	fill, err := g.function(proto, "fill")
	if err != nil {
		return err
	}
	if err := g.replace(proto, "fill", func(call goja.FunctionCall) goja.Value {
		if !isClass(call.This, "Array") {
			panic(g.vm.NewTypeError("Array.prototype.fill requires an array receiver"))
		}
		obj := call.This.(*goja.Object)
		g.checkArray(lengthOf(obj))
		return g.call(fill, obj, call.Arguments...)
	}); err != nil {
		return err
	}

	from, err := g.function(array, "from")
	if err != nil {
		return err
	}
	return g.replace(array, "from", func(call goja.FunctionCall) goja.Value {
		args := append([]goja.Value(nil), call.Arguments...)
		if obj, ok := call.Argument(0).(*goja.Object); ok {
			if isClass(obj, "Array") {
				g.checkArray(lengthOf(obj))
			} else if iter, ok := goja.AssertFunction(obj.GetSymbol(goja.SymIterator)); ok {
				args[0] = g.iterable(obj, iter)
			} else {
				args[0], _ = g.arrayLike(obj)
			}
		}
		return g.call(from, call.This, args...)
	})
}

// arrayLike returns this as an array and its length. Anything other than a
// real array is copied once so its length is read only once.
func (g *guards) arrayLike(this goja.Value) (*goja.Object, int64) {
	obj := this.ToObject(g.vm)
	n := lengthOf(obj)
	g.checkArray(n)
	if obj.ClassName() == "Array" {
		return obj, n
	}
	items := make([]interface{}, n)
	for i := range items {
		v := obj.Get(strconv.Itoa(i))
		if v == nil {
			v = goja.Undefined()
		}
		items[i] = v
	}
	return g.vm.NewArray(items...), n
}

// iterable pins the iterator method read from obj so later reads by the
// original builtin see the same one.
func (g *guards) iterable(obj *goja.Object, iter goja.Callable) *goja.Object {
	pinned := g.vm.NewObject()
	method := g.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return g.call(iter, obj)
	})
	if err := pinned.DefineDataPropertySymbol(goja.SymIterator, method, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		panic(err)
	}
	return pinned
}

func (g *guards) checkArray(n int64) {
	if n > g.limits.maxArray {
		g.throw(g.rangeErr, "array length %d exceeds %d", n, g.limits.maxArray)
	}
}

func (g *guards) thisString(this goja.Value, method string) string {
	if goja.IsUndefined(this) || goja.IsNull(this) {
		panic(g.vm.NewTypeError("String.prototype.%s called on null or undefined", method))
	}
	return this.String()
}

func (g *guards) call(fn goja.Callable, this goja.Value, args ...goja.Value) goja.Value {
	v, err := fn(this, args...)
	if err != nil {
		panic(err)
	}
	return v
}

func (g *guards) throw(ctor goja.Constructor, format string, args ...any) {
	obj, err := ctor(nil, g.vm.ToValue(fmt.Sprintf(format, args...)))
	if err != nil {
		panic(err)
	}
	panic(obj)
}

func (g *guards) replace(obj *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) error {
	wrapped := g.vm.ToValue(fn).(*goja.Object)
	if err := wrapped.DefineDataProperty("name", g.vm.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}
	return obj.DefineDataProperty(name, wrapped, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (g *guards) object(parent *goja.Object, name string) (*goja.Object, error) {
	obj, ok := parent.Get(name).(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%s is not an object", name)
	}
	return obj, nil
}

func (g *guards) function(parent *goja.Object, name string) (goja.Callable, error) {
	fn, ok := goja.AssertFunction(parent.Get(name))
	if !ok {
		return nil, fmt.Errorf("%s is not a function", name)
	}
	return fn, nil
}

func (g *guards) constructor(parent *goja.Object, name string) (goja.Constructor, error) {
	ctor, ok := goja.AssertConstructor(parent.Get(name))
	if !ok {
		return nil, fmt.Errorf("%s is not a constructor", name)
	}
	return ctor, nil
}

func lengthOf(obj *goja.Object) int64 {
	v := obj.Get("length")
	if v == nil {
		return 0
	}
	if n := v.ToInteger(); n > 0 {
		return n
	}
	return 0
}

func isClass(v goja.Value, class string) bool {
	obj, ok := v.(*goja.Object)
	return ok && obj.ClassName() == class
}
