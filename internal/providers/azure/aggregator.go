package azure

import (
	"strings"
	"sync"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
)

// aggregator assembles the best final transcript from a stream of partial
// and final events. Finals are concatenated; when the stream ends without a
// terminal final, the last partial stands in.
type aggregator struct {
	mu          sync.Mutex
	finals      []string
	lastPartial string
}

func newAggregator() *aggregator {
	return &aggregator{}
}

func (a *aggregator) Add(event domain.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
		a.lastPartial = ""
		return
	}
	a.lastPartial = text
}

func (a *aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if a.lastPartial == "" {
		return joined
	}
	if joined == "" {
		return a.lastPartial
	}
	// a trailing partial that never finalized is appended rather than lost
	return joined + " " + a.lastPartial
}
