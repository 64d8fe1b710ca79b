package history

import (
	"sync"
	"time"
)

type History struct {
	ID       string        `json:"id"`
	Date     time.Time     `json:"date"`
	Duration time.Duration `json:"duration"`
	Request  Request       `json:"request"`
	Response Response      `json:"response"`
	// Mocked is false when the call was passed through to the next transport.
	Mocked bool   `json:"mocked"`
	Error  string `json:"error,omitempty"`
}

type Request struct {
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Pattern    string            `json:"pattern,omitempty"`
	PathParams map[string]string `json:"path_params,omitempty"`
}

type Response struct {
	Status        int    `json:"status"`
	PayloadString string `json:"payload_string,omitempty"`
}

type RegistryWriter interface {
	RegisterHistory(History)
}
type RegistryReader interface {
	GetHistories() []History
	Clear()
}

type DefaultRegistry struct {
	histories []History
	mu        sync.Mutex
}

func (r *DefaultRegistry) RegisterHistory(h History) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = append(r.histories, h)
}

// GetHistories returns a copy in arrival order.
func (r *DefaultRegistry) GetHistories() []History {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]History, len(r.histories))
	copy(out, r.histories)
	return out
}

func (r *DefaultRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = nil
}
