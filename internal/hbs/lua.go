package hbs

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// luaHelpers holds helper functions defined by a Lua script. The script
// must return a table mapping helper names to functions of one argument.
//
//	return {
//	  shout = function(s) return string.upper(s) .. "!" end,
//	}
//
// gopher-lua states are not goroutine safe; calls are serialized.
type luaHelpers struct {
	mu  sync.Mutex
	L   *lua.LState
	fns map[string]*lua.LFunction
}

func loadLuaHelpers(path string) (*luaHelpers, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("load helpers %s: %w", path, err)
	}

	tbl, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("load helpers %s: script must return a table of functions", path)
	}

	h := &luaHelpers{L: L, fns: make(map[string]*lua.LFunction)}
	tbl.ForEach(func(k, v lua.LValue) {
		fn, ok := v.(*lua.LFunction)
		if ok && k.Type() == lua.LTString {
			h.fns[k.String()] = fn
		}
	})
	return h, nil
}

// Names returns the helper names in sorted order.
func (h *luaHelpers) Names() []string {
	names := make([]string, 0, len(h.fns))
	for n := range h.fns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (h *luaHelpers) call(name, arg string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn, ok := h.fns[name]
	if !ok {
		return "", fmt.Errorf("lua helper %q not defined", name)
	}
	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(arg)); err != nil {
		return "", fmt.Errorf("lua helper %q: %w", name, err)
	}
	ret := h.L.Get(-1)
	h.L.Pop(1)
	if ret == lua.LNil {
		return "", nil
	}
	return ret.String(), nil
}

func (h *luaHelpers) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.L.Close()
}
