package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqguard/internal/models"
)

func TestFactory_CreateMemory(t *testing.T) {
	factory := NewFactory()

	s, err := factory.Create(models.StoreConfig{Type: models.StoreTypeMemory})
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close()

	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
}

func TestFactory_CreateUnsupported(t *testing.T) {
	factory := NewFactory()

	_, err := factory.Create(models.StoreConfig{Type: "cassandra"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store type")
}

func TestFactory_SupportedBackends(t *testing.T) {
	factory := NewFactory()
	backends := factory.SupportedBackends()

	assert.Contains(t, backends, models.StoreTypeMemory)
	assert.Contains(t, backends, models.StoreTypeRedis)
	assert.Contains(t, backends, models.StoreTypePostgres)
	assert.Contains(t, backends, models.StoreTypeSQLite)
}
