package opnsense

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultTruthy(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{``, false},
		{`{}`, false},
		{`[]`, false},
		{`false`, false},
		{`0`, false},
		{`""`, false},
		{`null`, false},
		{`{"status":"ok"}`, true},
		{`[1]`, true},
		{`true`, true},
		{`"ok"`, true},
		{`restored`, true},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, newResult(200, []byte(tt.body)).Truthy())
		})
	}
	var nilResult *Result
	assert.False(t, nilResult.Truthy())
}

func TestResultDecodeAndPretty(t *testing.T) {
	r := newResult(200, []byte(`{"filename":"b.xml","size":3}`))
	var out struct {
		Filename string `json:"filename"`
		Size     int    `json:"size"`
	}
	require.NoError(t, r.Decode(&out))
	assert.Equal(t, "b.xml", out.Filename)
	assert.Equal(t, 3, out.Size)
	assert.Equal(t, "", r.Field("size"))
	assert.Contains(t, r.Pretty(), "\n  \"filename\": \"b.xml\"")

	assert.Error(t, newResult(200, nil).Decode(&out))
	assert.Equal(t, "plain", newResult(200, []byte("plain")).Pretty())
}
