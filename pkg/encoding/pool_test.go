package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJSON(t *testing.T) {
	out, err := EncodeJSON(map[string]string{"status": "active"})
	require.NoError(t, err)
	assert.Equal(t, `{"status":"active"}`, string(out))

	_, err = EncodeJSON(make(chan int))
	assert.Error(t, err)
}

func TestPutBuffer_DropsLargeBuffers(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString(strings.Repeat("x", maxPooledBuffer+1))
	PutBuffer(buf)

	next := GetBuffer()
	assert.Zero(t, next.Len())
	PutBuffer(next)
}
