package epc

import "sync"

// Process-wide registry of live managers. Stop removes a manager;
// LiveManagers and StopAll enumerate it.
var (
	managersMu   sync.Mutex
	liveManagers = make(map[*Manager]struct{})
)

func registerManager(m *Manager) {
	managersMu.Lock()
	liveManagers[m] = struct{}{}
	managersMu.Unlock()
}

func unregisterManager(m *Manager) {
	managersMu.Lock()
	delete(liveManagers, m)
	managersMu.Unlock()
}

// LiveManagers returns a snapshot of all managers that have not been
// stopped.
func LiveManagers() []*Manager {
	managersMu.Lock()
	defer managersMu.Unlock()
	out := make([]*Manager, 0, len(liveManagers))
	for m := range liveManagers {
		out = append(out, m)
	}
	return out
}

// StopAll stops every live manager.
func StopAll() {
	for _, m := range LiveManagers() {
		m.Stop()
	}
}
