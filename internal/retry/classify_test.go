package retry

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassRefreshOnce, Classify(http.StatusForbidden, "", nil))
	assert.Equal(t, ClassBackoff, Classify(http.StatusTooManyRequests, "", nil))
	assert.Equal(t, ClassBackoff, Classify(http.StatusInternalServerError, "", nil))
	assert.Equal(t, ClassBackoff, Classify(http.StatusServiceUnavailable, "", nil))
	assert.Equal(t, ClassCompress, Classify(http.StatusBadRequest, "ValidationException", nil))
	assert.Equal(t, ClassCompress, Classify(http.StatusBadRequest, "", []byte(`{"message":"ValidationException: too long"}`)))
	assert.Equal(t, ClassFailImmediate, Classify(http.StatusBadRequest, "", []byte(`{"message":"bad input"}`)))
	assert.Equal(t, ClassFailImmediate, Classify(http.StatusUnauthorized, "", nil))
}
