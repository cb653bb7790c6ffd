package native

import (
	v8 "github.com/tommie/v8go"

	"github.com/v8app/jsapp/jsapperr"
)

// internalFieldCount is fixed at three aligned pointer-sized slots: a
// heap scan tag, the TypeInfo pointer, and the native instance pointer.
// v8go surfaces internal fields as opaque values rather than raw
// pointers, so slot 2 here holds the *Wrapper itself (which already
// carries both the TypeInfo and the instance).
const internalFieldCount = 3

const (
	fieldHeapTag = 0
	fieldTypeInfo = 1
	fieldWrapper  = 2
)

// Builder is a fluent, single-use object template builder: a constructor
// may be set at most once, and doing so unlocks subsequent
// SetMethod/SetProperty/SetValue calls; any of those calls permanently
// forbids a later SetConstructor.
type Builder struct {
	iso  *v8.Isolate
	info *TypeInfo

	tmpl              *v8.ObjectTemplate
	ctorAllowed       bool
	constructorIsSet  bool
	built             bool
}

// NewBuilder starts building an ObjectTemplate for the native type
// described by info.
func NewBuilder(iso *v8.Isolate, info *TypeInfo) *Builder {
	tmpl := v8.NewObjectTemplate(iso)
	tmpl.SetInternalFieldCount(internalFieldCount)
	return &Builder{iso: iso, info: info, tmpl: tmpl, ctorAllowed: true}
}

// SetConstructor installs the template's constructor callback. Calling it
// twice is a fatal usage error (panics).
func (b *Builder) SetConstructor(name string, callback v8.FunctionCallback) *Builder {
	b.mustNotBuilt()
	if b.constructorIsSet {
		panic("native: SetConstructor called twice for " + b.info.TypeName)
	}
	if !b.ctorAllowed {
		panic("native: SetConstructor called after a member was set for " + b.info.TypeName)
	}
	ctorTmpl := v8.NewFunctionTemplate(b.iso, callback)
	ctorTmpl.SetClassName(name)
	ctorTmpl.PrototypeTemplate().Set("constructor", ctorTmpl)
	b.constructorIsSet = true
	return b
}

// SetMethod installs a method on the template's prototype. It permanently
// forbids a later SetConstructor call.
func (b *Builder) SetMethod(name string, callback v8.FunctionCallback) *Builder {
	b.mustNotBuilt()
	b.ctorAllowed = false
	fn := v8.NewFunctionTemplate(b.iso, callback)
	b.tmpl.Set(name, fn)
	return b
}

// SetReadOnlyProperty installs a non-writable data property carrying value.
func (b *Builder) SetReadOnlyProperty(name string, value *v8.Value) *Builder {
	b.mustNotBuilt()
	b.ctorAllowed = false
	b.tmpl.Set(name, value, v8.ReadOnly)
	return b
}

// SetProperty installs an accessor pair.
func (b *Builder) SetProperty(name string, getter, setter v8.FunctionCallback) *Builder {
	b.mustNotBuilt()
	b.ctorAllowed = false
	if getter != nil {
		b.tmpl.Set("__get_"+name, v8.NewFunctionTemplate(b.iso, getter))
	}
	if setter != nil {
		b.tmpl.Set("__set_"+name, v8.NewFunctionTemplate(b.iso, setter))
	}
	return b
}

// SetValue installs a plain data property.
func (b *Builder) SetValue(name string, value *v8.Value) *Builder {
	b.mustNotBuilt()
	b.ctorAllowed = false
	b.tmpl.Set(name, value)
	return b
}

// Build finalizes and returns the ObjectTemplate. The Builder is single-use
// after this call.
func (b *Builder) Build() *v8.ObjectTemplate {
	b.mustNotBuilt()
	b.built = true
	return b.tmpl
}

func (b *Builder) mustNotBuilt() {
	if b.built {
		panic("native: Builder used after Build() for " + b.info.TypeName)
	}
}

// TemplateCache caches one ObjectTemplate per native TypeInfo per Runtime.
type TemplateCache struct {
	byTypeName map[string]*v8.ObjectTemplate
}

// NewTemplateCache creates an empty TemplateCache.
func NewTemplateCache() *TemplateCache {
	return &TemplateCache{byTypeName: make(map[string]*v8.ObjectTemplate)}
}

// GetOrCreate returns the cached template for info, calling build to
// construct and cache it on first use.
func (c *TemplateCache) GetOrCreate(info *TypeInfo, build func() *v8.ObjectTemplate) *v8.ObjectTemplate {
	if tmpl, ok := c.byTypeName[info.TypeName]; ok {
		return tmpl
	}
	tmpl := build()
	c.byTypeName[info.TypeName] = tmpl
	return tmpl
}

// Get returns the cached template for typeName, or an error if absent.
func (c *TemplateCache) Get(typeName string) (*v8.ObjectTemplate, error) {
	tmpl, ok := c.byTypeName[typeName]
	if !ok {
		return nil, jsapperr.New(jsapperr.NotFound, "native.TemplateCache.Get", "no template registered for "+typeName)
	}
	return tmpl, nil
}
