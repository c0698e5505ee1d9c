package store

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	unique := &pq.Error{Code: "23505"}
	assert.ErrorIs(t, translateError(unique), ErrConflict)

	other := &pq.Error{Code: "23503"}
	assert.NotErrorIs(t, translateError(other), ErrConflict)

	plain := errors.New("boom")
	assert.Equal(t, plain, translateError(plain))
}
