package engine

import "sort"

// Context is the accumulating step-name -> result mapping threaded through a
// run. It is never mutated in place: With and WithAll return a new snapshot,
// so a handler holding an older Context never observes later writes.
// Insertion order follows execution order; re-recording an existing name
// overwrites the value but keeps the original position.
type Context struct {
	order  []string
	values map[string]any
}

// NewContext creates a Context seeded with the initial values. Initial keys
// are ordered lexically since the caller's map carries no order of its own.
func NewContext(initial map[string]any) *Context {
	c := &Context{
		order:  make([]string, 0, len(initial)),
		values: make(map[string]any, len(initial)),
	}
	for k := range initial {
		c.order = append(c.order, k)
	}
	sort.Strings(c.order)
	for _, k := range c.order {
		c.values[k] = initial[k]
	}
	return c
}

// With returns a new Context equal to this one plus {name: result}.
func (c *Context) With(name string, result any) *Context {
	next := c.clone(1)
	next.set(name, result)
	return next
}

// WithAll returns a new Context with every named value merged flatly, in the
// given order. Used for parallel groups, where each branch's result enters
// the context under the branch's own name.
func (c *Context) WithAll(order []string, values map[string]any) *Context {
	next := c.clone(len(order))
	for _, name := range order {
		next.set(name, values[name])
	}
	return next
}

// Get returns the recorded result for a step name.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Keys returns the step names in insertion order.
func (c *Context) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

// Values returns a fresh map of the accumulated results. Mutating the
// returned map does not affect the Context.
func (c *Context) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Len returns the number of recorded names.
func (c *Context) Len() int {
	return len(c.order)
}

func (c *Context) clone(extra int) *Context {
	next := &Context{
		order:  make([]string, len(c.order), len(c.order)+extra),
		values: make(map[string]any, len(c.values)+extra),
	}
	copy(next.order, c.order)
	for k, v := range c.values {
		next.values[k] = v
	}
	return next
}

func (c *Context) set(name string, result any) {
	if _, exists := c.values[name]; !exists {
		c.order = append(c.order, name)
	}
	c.values[name] = result
}
