// Package native implements a native object bridge: managed native
// objects with JS-visible proxies, a fluent template builder, a
// reflection-based call dispatcher, and the to_js/from_js type converter
// matrix.
package native

import (
	"fmt"
	"reflect"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/jsapperr"
)

// ToJS converts a Go value to a JS value under iso/ctx. Supported inputs:
// the primitive kinds (bool, all integer widths, float32/64), string,
// []byte, any slice (recursively, producing a JS array), a *Wrapper
// (its JS proxy object), and a *v8.Value/*v8.Object passthrough.
func ToJS(iso *v8.Isolate, ctx *v8.Context, value any) (*v8.Value, error) {
	if value == nil {
		return v8.Undefined(iso), nil
	}
	switch v := value.(type) {
	case *v8.Value:
		return v, nil
	case *v8.Object:
		return v.Value, nil
	case *Wrapper:
		return v.jsObject.Value, nil
	case bool:
		return v8.NewValue(iso, v)
	case string:
		return v8.NewValue(iso, v)
	case []byte:
		return bytesToArrayBuffer(iso, ctx, v)
	case int:
		return v8.NewValue(iso, int32(v))
	case int32:
		return v8.NewValue(iso, v)
	case int64:
		return v8.NewValue(iso, v)
	case uint32:
		return v8.NewValue(iso, v)
	case uint64:
		return v8.NewValue(iso, v)
	case float32:
		return v8.NewValue(iso, float64(v))
	case float64:
		return v8.NewValue(iso, v)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice {
		return sliceToJSArray(iso, ctx, rv)
	}
	return nil, jsapperr.New(jsapperr.TypeMismatch, "native.ToJS", fmt.Sprintf("unsupported Go type %T", value))
}

func sliceToJSArray(iso *v8.Isolate, ctx *v8.Context, rv reflect.Value) (*v8.Value, error) {
	n := rv.Len()
	elemScript := "[]"
	arrVal, err := ctx.RunScript(elemScript, "native_array_literal.js")
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.Eval, "native.sliceToJSArray", "allocating array", err)
	}
	arrObj, err := arrVal.AsObject()
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.TypeMismatch, "native.sliceToJSArray", "array literal was not an object", err)
	}
	for i := 0; i < n; i++ {
		elem, err := ToJS(iso, ctx, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		if err := arrObj.SetIdx(uint32(i), elem); err != nil {
			return nil, jsapperr.Wrap(jsapperr.Eval, "native.sliceToJSArray", "setting element", err)
		}
	}
	return arrObj.Value, nil
}

func bytesToArrayBuffer(iso *v8.Isolate, ctx *v8.Context, data []byte) (*v8.Value, error) {
	allocScript := fmt.Sprintf("new ArrayBuffer(%d)", len(data))
	bufVal, err := ctx.RunScript(allocScript, "native_arraybuffer_alloc.js")
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.Eval, "native.bytesToArrayBuffer", "allocating ArrayBuffer", err)
	}
	if len(data) == 0 {
		return bufVal, nil
	}
	contents, release, err := bufVal.ArrayBufferGetContents()
	if err != nil {
		return nil, jsapperr.Wrap(jsapperr.TypeMismatch, "native.bytesToArrayBuffer", "getting ArrayBuffer contents", err)
	}
	copy(contents, data)
	release()
	return bufVal, nil
}

// FromJS converts a JS value into *out, which must be a non-nil pointer to
// one of: bool, string, the integer/float kinds, []byte (from an
// ArrayBuffer), or *v8.Value (passthrough). It reports false when val
// cannot be converted to out's type, using a boolean-success contract
// instead of Go's usual error return, since a failed conversion here is a
// routine argument-shape mismatch, not a system error.
func FromJS(val *v8.Value, out any) bool {
	switch o := out.(type) {
	case *bool:
		*o = val.Boolean() // JS truthiness, matching from_js_bool's documented rule
		return true
	case *string:
		*o = val.String()
		return true
	case *int:
		i, ok := exactInteger(val)
		if !ok {
			return false
		}
		*o = int(i)
		return true
	case *int32:
		i, ok := exactInteger(val)
		if !ok {
			return false
		}
		*o = int32(i)
		return true
	case *int64:
		i, ok := exactInteger(val)
		if !ok {
			return false
		}
		*o = i
		return true
	case *uint32:
		i, ok := exactInteger(val)
		if !ok || i < 0 {
			return false
		}
		*o = uint32(i)
		return true
	case *uint64:
		i, ok := exactInteger(val)
		if !ok || i < 0 {
			return false
		}
		*o = uint64(i)
		return true
	case *float32:
		if !val.IsNumber() {
			return false
		}
		*o = float32(val.Number())
		return true
	case *float64:
		if !val.IsNumber() {
			return false
		}
		*o = val.Number()
		return true
	case *[]byte:
		b, ok := arrayBufferToBytes(val)
		if !ok {
			return false
		}
		*o = b
		return true
	case **v8.Value:
		*o = val
		return true
	}
	return false
}

// exactInteger rejects non-integral numbers.
func exactInteger(val *v8.Value) (int64, bool) {
	if !val.IsNumber() {
		return 0, false
	}
	f := val.Number()
	i := int64(f)
	if float64(i) != f {
		return 0, false
	}
	return i, true
}

func arrayBufferToBytes(val *v8.Value) ([]byte, bool) {
	contents, release, err := val.ArrayBufferGetContents()
	if err != nil {
		return nil, false
	}
	defer release()
	out := make([]byte, len(contents))
	copy(out, contents)
	return out, true
}

// FromJSVector converts a JS array val into a []T by applying elemFromJS
// to each element; it requires val to be an array.
func FromJSVector[T any](val *v8.Value, elemFromJS func(*v8.Value) (T, bool)) ([]T, bool) {
	obj, err := val.AsObject()
	if err != nil || !val.IsArray() {
		return nil, false
	}
	length, err := obj.Get("length")
	if err != nil {
		return nil, false
	}
	n := int(length.Integer())
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		elemVal, err := obj.GetIdx(uint32(i))
		if err != nil {
			return nil, false
		}
		elem, ok := elemFromJS(elemVal)
		if !ok {
			return nil, false
		}
		out = append(out, elem)
	}
	return out, true
}
