package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	invoke func(ctx context.Context, args Args) (any, error)
}

func (s *stubTool) Name() string { return "stub" }
func (s *stubTool) Description() string { return "stub tool" }
func (s *stubTool) Parameters() map[string]ParamSpec { return map[string]ParamSpec{"text": {Type: "string"}} }
func (s *stubTool) Invoke(ctx context.Context, args Args) (any, error) { return s.invoke(ctx, args) }

func TestExecuteAwait(t *testing.T) {
	tool := &stubTool{invoke: func(_ context.Context, args Args) (any, error) {
		return args["text"].(string) + "!", nil
	}}

	got, err := Execute(context.Background(), tool, Args{"text": "hi"}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi!", got)
}

func TestExecuteError(t *testing.T) {
	boom := errors.New("boom")
	tool := &stubTool{invoke: func(context.Context, Args) (any, error) { return nil, boom }}

	_, err := Execute(context.Background(), tool, nil).Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestExecutePanicBecomesError(t *testing.T) {
	tool := &stubTool{invoke: func(context.Context, Args) (any, error) { panic("bad model") }}

	_, err := Execute(context.Background(), tool, nil).Await(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolExecution)
	assert.Contains(t, err.Error(), "bad model")
}

func TestAwaitContextDone(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tool := &stubTool{invoke: func(context.Context, Args) (any, error) {
		<-release
		return nil, nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Execute(context.Background(), tool, nil).Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolved(t *testing.T) {
	f := Resolved("x", 42, nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("resolved future should be done")
	}
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSortedNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedNames(map[string]int{"c": 1, "a": 2, "b": 3}))
}

func TestSchemaOf(t *testing.T) {
	s := SchemaOf(&stubTool{})
	assert.Equal(t, "stub", s.Name)
	assert.Contains(t, s.Parameters, "text")
}
