package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
		{
			name:        "unknown field",
			body:        `{"name": "test", "extra": 1}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest struct {
				Name string `json:"name"`
			}

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest.Name)
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(`[`))
	var dest map[string]string

	assert.False(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name   string
		vars   map[string]string
		want   int64
		wantOK bool
	}{
		{"valid", map[string]string{"id": "42"}, 42, true},
		{"missing", map[string]string{}, 0, false},
		{"not a number", map[string]string{"id": "abc"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest("GET", "/", nil), tt.vars)
			w := httptest.NewRecorder()

			got, ok := ParsePathInt64OrError(w, req, "id")

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			if !tt.wantOK {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=10&bad=x", nil)

	n, err := ParseQueryInt(req, "limit", 50)
	assert.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = ParseQueryInt(req, "offset", 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ParseQueryInt(req, "bad", 0)
	assert.Error(t, err)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "v", "field"))
	assert.False(t, RequireNonEmpty(w, "", "field"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
