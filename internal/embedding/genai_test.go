package embedding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenAIEmbedConfig(t *testing.T) {
	e := &GenAIEngine{model: "gemini-embedding-001", dim: 512}

	cfg := e.embedConfig(taskRetrievalQuery)
	require.Equal(t, "RETRIEVAL_QUERY", cfg.TaskType)
	require.NotNil(t, cfg.OutputDimensionality)
	require.Equal(t, int32(512), *cfg.OutputDimensionality)

	require.Equal(t, "RETRIEVAL_DOCUMENT", e.embedConfig(taskRetrievalDocument).TaskType)
}

func TestGenAIEngineRequiresAPIKey(t *testing.T) {
	_, err := NewGenAIEngine("", "gemini-embedding-001", 768)
	require.Error(t, err)
}
