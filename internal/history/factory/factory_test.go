package factory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSinkFromDSN_Sqlite(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://:memory:")
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestNewSinkFromDSN_Errors(t *testing.T) {
	_, err := NewSinkFromDSN("")
	require.Error(t, err)

	_, err = NewSinkFromDSN("redis://localhost:6379")
	require.Error(t, err)

	_, err = NewSinkFromDSN("clickhouse://")
	require.Error(t, err)
}
