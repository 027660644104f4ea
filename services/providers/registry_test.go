package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	*Base
}

func newStub(name string) *stubProvider {
	return &stubProvider{Base: NewBase(ProviderConfig{Name: name}, Capabilities{Chat: true, Completions: true})}
}

func (s *stubProvider) Generate(ctx context.Context, req *GenerateRequest) (*Result, error) {
	return &Result{Text: req.Prompt, Provider: s.Name()}, nil
}

func (s *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*Result, error) {
	return &Result{Text: req.Messages[len(req.Messages)-1].Content, Provider: s.Name()}, nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) bool { return true }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(newStub("b")))
	require.NoError(t, r.Register(newStub("a")))
	require.NoError(t, r.Register(newStub("c")))

	assert.Equal(t, []string{"b", "a", "c"}, r.Names())
	assert.Equal(t, 3, r.Count())

	p, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name())

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrProviderNotFound))
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(newStub("")))

	require.NoError(t, r.Register(newStub("ollama")))
	assert.ErrorIs(t, r.Register(newStub("ollama")), ErrProviderAlreadyRegistered)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(newStub(name)))
	}

	p, err := r.Unregister("b")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())
	assert.Equal(t, []string{"a", "c"}, r.Names())

	_, err = r.Unregister("b")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name())
	assert.Equal(t, "c", all[1].Name())
}

func TestRegistry_NamesIsSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStub("a")))

	names := r.Names()
	names[0] = "mutated"

	assert.Equal(t, []string{"a"}, r.Names())
}
