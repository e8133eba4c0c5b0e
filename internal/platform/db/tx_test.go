package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestWithTxOptionsRequiresPool(t *testing.T) {
	called := false
	err := WithTxOptions(context.Background(), nil, ReadCommitted, func(pgx.Tx) error {
		called = true
		return nil
	})
	assert.EqualError(t, err, "platform/db: pool not initialised")
	assert.False(t, called)
}

func TestIsolationPresets(t *testing.T) {
	assert.Equal(t, pgx.RepeatableRead, RepeatableRead.IsoLevel)
	assert.Equal(t, pgx.ReadCommitted, ReadCommitted.IsoLevel)
}
