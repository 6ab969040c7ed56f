package validation

import "sync"

// historyWindow caps how many recent verdicts are retained per workspace.
const historyWindow = 50

// HistoryTracker keeps a rolling window of verdict outcomes per workspace
// and condenses them into the 0-1 history factor fed to the scorer. A
// workspace with a clean record contributes nothing; repeated warns and
// blocks push subsequent scores up.
type HistoryTracker struct {
	mu     sync.RWMutex
	recent map[string][]string
}

// NewHistoryTracker creates an empty tracker.
func NewHistoryTracker() *HistoryTracker {
	return &HistoryTracker{recent: make(map[string][]string)}
}

// Observe appends one verdict outcome for the workspace, evicting the
// oldest entry once the window is full.
func (h *HistoryTracker) Observe(workspaceID, overall string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := append(h.recent[workspaceID], overall)
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}
	h.recent[workspaceID] = window
}

// Signal returns the workspace's history factor: the weighted share of
// recent verdicts that warned or blocked. Blocks count at full weight,
// warns at half. Zero when nothing has been observed.
func (h *HistoryTracker) Signal(workspaceID string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	window := h.recent[workspaceID]
	if len(window) == 0 {
		return 0
	}
	var weight float64
	for _, overall := range window {
		switch overall {
		case StatusBlock:
			weight += 1
		case StatusWarn:
			weight += 0.5
		}
	}
	return weight / float64(len(window))
}
