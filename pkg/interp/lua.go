package interp

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// LuaEngine runs student code on an in-process Lua interpreter. Scripts get
// three extra globals on top of the standard library: input(prompt) suspends
// for a line of input, write(...) emits text without a trailing newline, and
// stop() terminates the program deliberately.
type LuaEngine struct{}

// NewLuaEngine constructs the embedded Lua engine.
func NewLuaEngine() *LuaEngine {
	return &LuaEngine{}
}

// NewContext returns a fresh interpreter state with no shared globals.
func (e *LuaEngine) NewContext() Context {
	return &luaContext{state: lua.NewState()}
}

type luaContext struct {
	state *lua.LState
}

func (c *luaContext) Run(ctx context.Context, source string, hooks Hooks) error {
	L := c.state
	L.SetContext(ctx)

	emit := func(text string) {
		if hooks.OnOutput != nil {
			hooks.OnOutput(text)
		}
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		emit(strings.Join(parts, "\t") + "\n")
		return 0
	}))

	L.SetGlobal("write", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		for i := 1; i <= top; i++ {
			emit(L.ToStringMeta(L.Get(i)).String())
		}
		return 0
	}))

	L.SetGlobal("input", L.NewFunction(func(L *lua.LState) int {
		prompt := L.OptString(1, "")
		if hooks.OnInput == nil {
			L.Push(lua.LString(""))
			return 1
		}
		value, err := hooks.OnInput(prompt)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(lua.LString(value))
		return 1
	}))

	L.SetGlobal("stop", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError(stopMessage)
		return 0
	}))

	return L.DoString(source)
}

func (c *luaContext) Close() {
	c.state.Close()
}
