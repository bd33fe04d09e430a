// Package hook defines interfaces that the rig.Hook option recognizes and will apply at various stages of setting up
// a new rig.
package hook

import (
	"context"
	"net"
	"net/http"
	"sort"
)

// Builder hooks are called before the rig starts serving and whenever a full rebuild is requested.  Builders are
// called in dependency order, see Order.
type Builder interface {
	RigBuild(ctx context.Context) error
}

// Starter hooks are called once the rig is serving and may start background work, such as watching sources, that
// must stop when the context is cancelled.
type Starter interface {
	RigStart(ctx context.Context) error
}

// Listen hooks provide the listener for the rig.  If more than one is hooked, the last one wins.
type Listen interface {
	Listen(ctx context.Context) (net.Listener, error)
}

// Listener hooks are called when the rig is setting up a new listener.
type Listener interface {
	RigListener(*net.ListenConfig)
}

// Server hooks are called when the rig is setting up a new HTTP server.
type Server interface {
	RigServer(*http.Server)
}

// Mux hooks are called when the rig is setting up a new HTTP multiplexer.
type Mux interface {
	RigMux(*http.ServeMux)
}

// Order returns hooks in the order given, except that a Dependent is moved after every Provider of the names it
// depends on.  Dependencies are placed in the order they were given.  Cycles are not an error; the hook reached first
// simply goes last.
func Order(hooks ...any) []any {
	providers := make(map[string][]int, len(hooks))
	for i, it := range hooks {
		if p, ok := it.(Provider); ok {
			for _, name := range p.Provides() {
				providers[name] = append(providers[name], i)
			}
		}
	}
	needs := func(i int) []int {
		d, ok := hooks[i].(Dependent)
		if !ok {
			return nil
		}
		var ret []int
		for _, name := range d.DependsOn() {
			ret = append(ret, providers[name]...)
		}
		sort.Ints(ret)
		return ret
	}

	type frame struct {
		hook  int
		needs []int
	}
	order := make([]any, 0, len(hooks))
	placed := make([]bool, len(hooks))
	var stack []frame
	for i := range hooks {
		if placed[i] {
			continue
		}
		placed[i] = true
		stack = append(stack[:0], frame{i, needs(i)})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.needs) == 0 {
				order = append(order, hooks[top.hook])
				stack = stack[:len(stack)-1]
				continue
			}
			j := top.needs[0]
			top.needs = top.needs[1:]
			if !placed[j] {
				placed[j] = true
				stack = append(stack, frame{j, needs(j)})
			}
		}
	}
	return order
}

// A Provider provides a name so that it can be referenced by a Dependent.
type Provider interface {
	Provides() []string
}

// A Dependent hook will not be called until all of its dependencies have been provided.
type Dependent interface {
	DependsOn() []string
}

// Build calls every Builder among hooks in dependency order, stopping at the first error.
func Build(ctx context.Context, hooks ...any) error {
	for _, it := range Order(hooks...) {
		if impl, ok := it.(Builder); ok {
			err := impl.RigBuild(ctx)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
