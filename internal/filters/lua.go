package filters

import (
	"context"
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	luajson "layeh.com/gopher-json"

	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// LuaEntry is the global function a filter script must define:
//
//	function keep(file, args, kwargs) return file.metadata.run > 2 end
//
// file is a table with fid, namespace, name, size, creator,
// created_timestamp and metadata. args is an array and kwargs a table of
// the filter's arguments. Scripts can use the json module through
// require("json"); os and io are not available.
const LuaEntry = "keep"

// LuaFilter runs a Lua script once per input file. The script is
// compiled once; each call borrows an interpreter from a pool.
type LuaFilter struct {
	name  string
	proto *lua.FunctionProto
	pool  sync.Pool
}

// NewLuaFilter compiles the script at path.
func NewLuaFilter(name, path string) (*LuaFilter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open filter script: %w", err)
	}
	defer f.Close()

	chunk, err := parse.Parse(f, path)
	if err != nil {
		return nil, fmt.Errorf("parse filter script %s: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("compile filter script %s: %w", path, err)
	}

	lf := &LuaFilter{name: name, proto: proto}
	L, err := lf.newState()
	if err != nil {
		return nil, err
	}
	lf.pool.Put(L)
	return lf, nil
}

// Name returns the name the filter registers under.
func (lf *LuaFilter) Name() string {
	return lf.name
}

func (lf *LuaFilter) newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	luajson.Preload(L)

	L.Push(L.NewFunctionFromProto(lf.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("load filter %s: %w", lf.name, err)
	}
	if L.GetGlobal(LuaEntry).Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("filter %s: script does not define %s()", lf.name, LuaEntry)
	}
	return L, nil
}

func (lf *LuaFilter) get() (*lua.LState, error) {
	if L, ok := lf.pool.Get().(*lua.LState); ok {
		return L, nil
	}
	return lf.newState()
}

// Filter implements engine.FilterFunc.
func (lf *LuaFilter) Filter(ctx context.Context, inputs []engine.Stream, args []ir.Value, kwargs map[string]ir.Value) (engine.Stream, error) {
	L, err := lf.get()
	if err != nil {
		closeAll(inputs)
		return nil, err
	}
	L.SetContext(ctx)
	defer func() {
		L.RemoveContext()
		lf.pool.Put(L)
	}()

	luaArgs, err := toLua(L, valueList(args))
	if err != nil {
		closeAll(inputs)
		return nil, fmt.Errorf("args: %w", err)
	}
	luaKwargs, err := toLua(L, ir.NativeMap(kwargs))
	if err != nil {
		closeAll(inputs)
		return nil, fmt.Errorf("kwargs: %w", err)
	}

	files, err := gather(ctx, inputs)
	if err != nil {
		return nil, err
	}

	var out []ir.File
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := toLua(L, fileRecord(f))
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", f.DID(), err)
		}
		err = L.CallByParam(lua.P{
			Fn:      L.GetGlobal(LuaEntry),
			NRet:    1,
			Protect: true,
		}, rec, luaArgs, luaKwargs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lua: %w", err)
		}
		keep := lua.LVAsBool(L.Get(-1))
		L.Pop(1)
		if keep {
			out = append(out, f)
		}
	}
	return engine.NewSliceStream(out), nil
}

func toLua(L *lua.LState, v any) (lua.LValue, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, err
	}
	return luajson.Decode(L, data)
}

func valueList(vals []ir.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.Native()
	}
	return out
}

func fileRecord(f ir.File) map[string]any {
	rec := map[string]any{
		"fid":       f.FID,
		"namespace": f.Namespace,
		"name":      f.Name,
		"size":      f.Size,
		"metadata":  map[string]any{},
	}
	if f.Creator != "" {
		rec["creator"] = f.Creator
	}
	if f.CreatedTimestamp != 0 {
		rec["created_timestamp"] = f.CreatedTimestamp
	}
	if f.Metadata != nil {
		rec["metadata"] = f.Metadata
	}
	return rec
}

// LoadLua compiles each name → script path pair and registers it.
func (r *Registry) LoadLua(scripts map[string]string) error {
	for _, name := range ir.SortedKeys(scripts) {
		lf, err := NewLuaFilter(name, scripts[name])
		if err != nil {
			return err
		}
		r.Register(name, lf.Filter)
	}
	return nil
}
