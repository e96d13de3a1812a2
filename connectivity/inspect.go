package connectivity

import (
	"iter"
	"sort"
)

// ServiceInfo describes a registered action at a point in time.
type ServiceInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ListServices returns an iterator over all registered actions in name
// order.
func (r *Router) ListServices() iter.Seq[ServiceInfo] {
	r.mu.RLock()
	infos := make([]ServiceInfo, 0, len(r.handlers))
	for name := range r.handlers {
		infos = append(infos, ServiceInfo{Name: name, Enabled: !r.disabled[name]})
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return func(yield func(ServiceInfo) bool) {
		for _, info := range infos {
			if !yield(info) {
				return
			}
		}
	}
}

// Inspect returns information about a single action. Returns ok=false if no
// handler is registered under that name.
func (r *Router) Inspect(service string) (info ServiceInfo, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.handlers[service]; !ok {
		return ServiceInfo{}, false
	}
	return ServiceInfo{Name: service, Enabled: !r.disabled[service]}, true
}
