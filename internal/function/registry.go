package function

import (
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry holds the functions advertised to the model, in registration order.
type Registry struct {
	mu    sync.RWMutex
	funcs *orderedmap.OrderedMap[string, Function]
}

func NewRegistry(funcs ...Function) (*Registry, error) {
	r := &Registry{funcs: orderedmap.New[string, Function]()}
	for _, f := range funcs {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(f Function) error {
	if f == nil {
		return fmt.Errorf("register: nil function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs.Get(f.Name()); exists {
		return fmt.Errorf("register: function %s already registered", f.Name())
	}
	r.funcs.Set(f.Name(), f)
	return nil
}

func (r *Registry) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs.Get(name)
}

// Infos returns the tool descriptions advertised to the model.
func (r *Registry) Infos() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*schema.ToolInfo, 0, r.funcs.Len())
	for pair := r.funcs.Oldest(); pair != nil; pair = pair.Next() {
		infos = append(infos, pair.Value.Info())
	}
	return infos
}

func (r *Registry) Functions() []Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Function, 0, r.funcs.Len())
	for pair := r.funcs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, r.funcs.Len())
	for pair := r.funcs.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs.Len()
}
