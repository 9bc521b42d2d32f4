package usecase

import (
	"context"
	"image"
	"sync"

	"github.com/chih3b/SanteConnect/internal/domain"
)

type fakeTool struct {
	name string
	fn   func(ctx context.Context, args domain.Args) (any, error)

	mu    sync.Mutex
	calls []domain.Args
}

func (f *fakeTool) Name() string                            { return f.name }
func (f *fakeTool) Description() string                     { return "fake " + f.name }
func (f *fakeTool) Parameters() map[string]domain.ParamSpec { return nil }

func (f *fakeTool) Invoke(ctx context.Context, args domain.Args) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, args)
}

func (f *fakeTool) Calls() []domain.Args {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Args(nil), f.calls...)
}

func returning(v any, err error) func(context.Context, domain.Args) (any, error) {
	return func(context.Context, domain.Args) (any, error) { return v, err }
}

type agentCall struct {
	task string
	tc   domain.TaskContext
}

type fakeAgent struct {
	name  string
	fn    func(task string, tc domain.TaskContext) *domain.Response
	calls []agentCall
}

func (f *fakeAgent) Name() string        { return f.name }
func (f *fakeAgent) Description() string { return "fake " + f.name }

func (f *fakeAgent) Process(_ context.Context, task string, tc domain.TaskContext) *domain.Response {
	f.calls = append(f.calls, agentCall{task: task, tc: tc})
	if f.fn == nil {
		return domain.OK(f.name, &domain.Data{}, nil, nil)
	}
	return f.fn(task, tc)
}

type fakeSource struct {
	label    string
	priority int
	result   *domain.SourceResult
	err      error
	calls    int
}

func (s *fakeSource) Label() string { return s.label }
func (s *fakeSource) Priority() int { return s.priority }

func (s *fakeSource) Lookup(context.Context, string) (*domain.SourceResult, error) {
	s.calls++
	return s.result, s.err
}

func testImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 8, 8))
}
