package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		page, perPage, total int
		wantPages            int
	}{
		{1, 10, 0, 0},
		{1, 10, 10, 1},
		{2, 10, 11, 2},
		{3, 25, 51, 3},
		{1, 0, 5, 0},
	}
	for _, tt := range tests {
		p := NewPagination(tt.page, tt.perPage, tt.total)
		assert.Equal(t, tt.wantPages, p.TotalPages, "total=%d perPage=%d", tt.total, tt.perPage)
		assert.Equal(t, tt.total, p.TotalItems)
	}
}

func TestResolveRequestID(t *testing.T) {
	assert.Equal(t, "abc-123_x.y", ResolveRequestID("abc-123_x.y"))

	for _, inbound := range []string{"", "has space", "quote\"", strings.Repeat("a", 65)} {
		got := ResolveRequestID(inbound)
		assert.NotEqual(t, inbound, got)
		assert.Len(t, got, 36)
	}
}

func TestEnvelopeMetadata(t *testing.T) {
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) {
		c.Set(ContextKeyRequestID, "req-1")
		c.Set(ContextKeyStartedAt, time.Now().Add(-20*time.Millisecond))
		Paginated(c, []int{1, 2}, NewPagination(1, 2, 5))
	})
	r.GET("/fail", func(c *gin.Context) {
		AbortFail(c, http.StatusForbidden, ErrForbidden)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.Metadata.RequestID)
	require.NotNil(t, body.Metadata.ElapsedMs)
	assert.GreaterOrEqual(t, *body.Metadata.ElapsedMs, int64(20))
	require.NotNil(t, body.Pagination)
	assert.Equal(t, 3, body.Pagination.TotalPages)
	assert.Nil(t, body.Error)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Equal(t, http.StatusForbidden, w.Code)

	body = Response{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, ErrForbidden, body.Error.Code)
	assert.Equal(t, GetMessage(ErrForbidden), body.Error.Message)
	assert.NotEmpty(t, body.Metadata.RequestID)
	assert.Nil(t, body.Metadata.ElapsedMs)
}
