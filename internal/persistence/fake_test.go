package persistence

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/virtualpainter/painter/internal/slogging"
)

func TestMain(m *testing.M) {
	if err := slogging.Initialize(slogging.Config{Level: slogging.LogLevelError, Output: io.Discard}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeGateway records calls and fails according to its error funcs
type fakeGateway struct {
	mu      sync.Mutex
	calls   map[string]int
	updates []string
	stored  map[string]string
	ctxErrs []error
	failFor func(op string, call int) error
	block   chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int), stored: make(map[string]string)}
}

func (f *fakeGateway) record(op string) error {
	f.mu.Lock()
	f.calls[op]++
	n := f.calls[op]
	failFor := f.failFor
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if failFor != nil {
		return failFor(op, n)
	}
	return nil
}

func (f *fakeGateway) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGateway) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	if err := f.record(OpGetSession); err != nil {
		return nil, err
	}
	return &SessionRecord{SessionID: sessionID}, nil
}

func (f *fakeGateway) CreateUser(context.Context, string, string, string) error {
	return f.record(OpCreateUser)
}

func (f *fakeGateway) UpdateCanvasState(ctx context.Context, sessionID, imageDataURL string, _ bool) error {
	err := f.record(OpUpdateCanvasState)
	if err == nil {
		err = ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, sessionID)
	if ctxErr := ctx.Err(); ctxErr != nil {
		f.ctxErrs = append(f.ctxErrs, ctxErr)
	}
	if err == nil {
		f.stored[sessionID] = imageDataURL
	}
	return err
}

func (f *fakeGateway) storedFor(sessionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[sessionID]
}

func (f *fakeGateway) ListActiveSessions(context.Context) ([]SessionRecord, error) {
	return nil, f.record(OpListActiveSessions)
}

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)
