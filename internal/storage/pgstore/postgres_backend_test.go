package pgstore

import (
	"testing"

	"github.com/nullstack-gw/nexusgate/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestBuildWhere_Equality(t *testing.T) {
	where, args := buildWhere([]storage.Filter{{Field: "provider", Op: storage.OpEq, Value: "kiro"}}, 1)
	assert.Equal(t, " AND data->>'provider' = $2", where)
	assert.Equal(t, []interface{}{"kiro"}, args)
}

func TestBuildWhere_NumericComparison(t *testing.T) {
	where, args := buildWhere([]storage.Filter{{Field: "errorCount", Op: storage.OpGte, Value: 3}}, 1)
	assert.Equal(t, " AND (data->>'errorCount')::numeric >= $2", where)
	assert.Equal(t, []interface{}{3}, args)
}

func TestBuildWhere_MultipleFiltersIncrementPlaceholders(t *testing.T) {
	where, args := buildWhere([]storage.Filter{
		{Field: "provider", Op: storage.OpEq, Value: "kiro"},
		{Field: "active", Op: storage.OpNeq, Value: false},
	}, 1)
	assert.Equal(t, " AND data->>'provider' = $2 AND data->>'active' != $3", where)
	assert.Equal(t, []interface{}{"kiro", "false"}, args)
}

func TestBuildWhere_Empty(t *testing.T) {
	where, args := buildWhere(nil, 1)
	assert.Empty(t, where)
	assert.Nil(t, args)
}
