package native

import (
	"fmt"
	"reflect"

	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/internal/registry"
	"github.com/v8app/jsapp/jsapperr"
)

// errorType lets the dispatcher recognize a trailing (T, error) return
// shape without importing reflect-on-the-fly per call.
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Dispatch builds a v8.FunctionCallback thunk around a Go function over
// the full converter matrix in convert.go, including a receiver-validation
// step for member methods: a null or wrong-type receiver throws a
// TypeError instead of invoking fn.
//
// When owningType is non-empty, the thunk validates that the call's
// receiver (This()) carries a *Wrapper of that exact type before invoking
// fn.
func Dispatch(iso *v8.Isolate, ctx *v8.Context, name string, fn any, owningType string, lookupWrapper func(*v8.Object) (*Wrapper, bool)) v8.FunctionCallback {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		panic(fmt.Sprintf("native.Dispatch: %s is not a function", name))
	}

	return func(info *v8.FunctionCallbackInfo) *v8.Value {
		var receiverWrapper *Wrapper
		if owningType != "" {
			thisObj, err := info.This().AsObject()
			if err != nil {
				throwTypeError(iso, fmt.Sprintf("%s: receiver is not an object", name))
				return nil
			}
			w, ok := lookupWrapper(thisObj)
			if !ok || w == nil || w.TypeInfo().TypeName != owningType {
				throwTypeError(iso, fmt.Sprintf("%s: receiver is not a %s", name, owningType))
				return nil
			}
			if w.State() != Live {
				throwTypeError(iso, fmt.Sprintf("%s: receiver has been destroyed", name))
				return nil
			}
			receiverWrapper = w
		}

		args := info.Args()
		wantArgs := fnType.NumIn()
		startArg := 0
		if receiverWrapper != nil && wantArgs > 0 && fnType.In(0) == reflect.TypeOf(receiverWrapper) {
			wantArgs--
			startArg = 1
		}
		if len(args) < wantArgs {
			throwTypeError(iso, fmt.Sprintf("%s requires at least %d argument(s), got %d", name, wantArgs, len(args)))
			return nil
		}

		goArgs := make([]reflect.Value, fnType.NumIn())
		if startArg == 1 {
			goArgs[0] = reflect.ValueOf(receiverWrapper)
		}
		for i := startArg; i < fnType.NumIn(); i++ {
			goArgs[i] = convertArg(args[i-startArg], fnType.In(i))
		}

		results := fnVal.Call(goArgs)
		result, err := convertResults(iso, ctx, fnType, results)
		if err != nil {
			throwTypeError(iso, fmt.Sprintf("calling %s: %s", name, err.Error()))
			return nil
		}
		return result
	}
}

func convertArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	ptr := reflect.New(targetType)
	if FromJS(val, ptr.Interface()) {
		return ptr.Elem()
	}
	return reflect.Zero(targetType)
}

func convertResults(iso *v8.Isolate, ctx *v8.Context, fnType reflect.Type, results []reflect.Value) (*v8.Value, error) {
	switch fnType.NumOut() {
	case 0:
		return nil, nil
	case 1:
		if fnType.Out(0) == errorType {
			if err, _ := results[0].Interface().(error); err != nil {
				return nil, err
			}
			return nil, nil
		}
		v, err := ToJS(iso, ctx, results[0].Interface())
		if err != nil {
			return nil, err
		}
		return v, nil
	case 2:
		if errVal, _ := results[1].Interface().(error); errVal != nil {
			return nil, errVal
		}
		v, err := ToJS(iso, ctx, results[0].Interface())
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, jsapperr.New(jsapperr.TypeMismatch, "native.convertResults", "unsupported return arity")
	}
}

func throwTypeError(iso *v8.Isolate, message string) {
	msg, err := v8.NewValue(iso, message)
	if err != nil {
		return
	}
	iso.ThrowException(msg)
}

// TemplateDescriptor identifies where a registered function template lives
// conceptually, for snapshot round-tripping: the namespace/context it was
// installed under and the class it is considered a member of ("" for a
// free global function).
type TemplateDescriptor struct {
	Namespace string
	ClassName string
}

// TemplateRecorder receives every function template RegisterGlobalFunction
// creates, so the owning Runtime can harvest a serializable descriptor for
// it at snapshot time. Defined here rather than imported from the owning
// package to avoid a dependency cycle: jsapp already imports native and
// builtins, so native cannot import jsapp back.
type TemplateRecorder interface {
	SetFunctionTemplate(desc TemplateDescriptor, name string, tmpl *v8.FunctionTemplate)
}

// RegisterGlobalFunction registers fn under name in r and installs a
// matching thunk as a global function on ctx's global object, for
// non-member (free) functions reached via the registry rather than a
// native-type template. When rec is non-nil, the created template is also
// handed to it for snapshot descriptor harvesting.
func RegisterGlobalFunction(r *registry.Registry, iso *v8.Isolate, ctx *v8.Context, name string, fn any, rec TemplateRecorder, desc TemplateDescriptor) error {
	thunk := Dispatch(iso, ctx, name, fn, "", nil)
	tmpl := v8.NewFunctionTemplate(iso, thunk)
	fnObj := tmpl.GetFunction(ctx)
	r.Register(addressOf(fn), name, fn, "")
	if rec != nil {
		rec.SetFunctionTemplate(desc, name, tmpl)
	}
	return ctx.Global().Set(name, fnObj)
}

// addressOf derives a stable registry key for fn. Go does not expose a
// function's code address through reflection, so the function value's
// pointer (stable for the process lifetime once the closure is created)
// stands in for the thunk address the embedder-level registry keys on.
func addressOf(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}
