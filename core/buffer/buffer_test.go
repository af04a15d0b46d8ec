package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/buffer"
)

var _ api.ByteSink = (*buffer.Buffer)(nil)
var _ api.ByteSource = (*buffer.Buffer)(nil)

func TestBufferAppend(t *testing.T) {
	var b buffer.Buffer
	assert.Equal(t, "", b.String())

	b.AppendString("test")
	b.Append([]byte(" "))
	b.Appendf("message %d", 7)
	require.Equal(t, 14, b.Len())
	assert.Equal(t, "test message 7", b.String())

	b.Reset()
	assert.Zero(t, b.Len())
	b.AppendString("again")
	assert.Equal(t, "again", string(b.Bytes()))

	b.Free()
	assert.Nil(t, b.Bytes())
}

func TestFromString(t *testing.T) {
	b := buffer.FromString("payload")
	assert.Equal(t, "payload", b.String())
	assert.Equal(t, 7, b.Len())
}
