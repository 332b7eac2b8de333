package polymarket

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/ratelimit"
)

// warnCounter counts warn-level records across goroutines.
type warnCounter struct {
	mu    sync.Mutex
	warns int
}

func (h *warnCounter) Enabled(context.Context, slog.Level) bool { return true }

func (h *warnCounter) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelWarn {
		h.mu.Lock()
		h.warns++
		h.mu.Unlock()
	}
	return nil
}

func (h *warnCounter) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *warnCounter) WithGroup(string) slog.Handler      { return h }

func (h *warnCounter) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.warns
}

func TestClobUnsignedWarningFiresOnceAcrossGoroutines(t *testing.T) {
	counter := &warnCounter{}
	client := NewClobClient(
		"http://unused",
		ratelimit.New(testLogger()),
		func() domain.Credentials { return domain.Credentials{} },
		slog.New(counter),
	)

	factory := client.authHeaders("GET", "/book", "")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Nil(t, factory())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, counter.count())
}
