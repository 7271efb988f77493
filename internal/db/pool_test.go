package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_EmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://user@localhost:notaport/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database URL")
}

func TestPool_SatisfiedByMock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var p Pool = mock
	assert.NotNil(t, p)
}
