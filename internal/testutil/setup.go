package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the Genkit name of the registered mock model.
const MockModelName = "mock/test-model"

// MockEmbedderDim matches the production embedding dimension so vectors fit
// the schema in integration tests.
const MockEmbedderDim = 768

// MockAISetup bundles a Genkit instance with registered mocks. No network
// access, no API keys.
type MockAISetup struct {
	Genkit   *genkit.Genkit
	LLM      *MockLLM
	Embedder ai.Embedder
	MockEmb  *MockEmbedder
}

// SetupMockAI initializes Genkit with a deterministic mock model and mock
// embedder for offline tests.
func SetupMockAI(t *testing.T) *MockAISetup {
	t.Helper()

	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("initializing genkit")
	}

	llm := NewMockLLM("mock answer")
	llm.RegisterModel(g)

	emb := NewMockEmbedder(MockEmbedderDim)
	embedder := emb.RegisterEmbedder(g)

	return &MockAISetup{
		Genkit:   g,
		LLM:      llm,
		Embedder: embedder,
		MockEmb:  emb,
	}
}
