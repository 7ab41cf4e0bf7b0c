package types

// FunctionContext is the expanded neighborhood of a single entity in the
// call graph. Function is nil when the requested name is not indexed; the
// slices are always non-nil.
type FunctionContext struct {
	Function *Entity
	Callees  []*Entity
	Callers  []*Entity
	SameFile []*Entity
}

// NewFunctionContext returns an empty context with initialized slices
func NewFunctionContext() *FunctionContext {
	return &FunctionContext{
		Callees:  []*Entity{},
		Callers:  []*Entity{},
		SameFile: []*Entity{},
	}
}
