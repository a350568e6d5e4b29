//go:build !parcheck_disabled

package parcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/parcheck/internal/engine"
)

func TestTraceRoundTripsThroughString(t *testing.T) {
	tr := Trace{
		{ID: 0, Name: "producer", Op: "write"},
		{ID: 1, Name: "consumer", Op: "read"},
	}
	rendered := tr.String()
	assert.Equal(t, "0:producer.write,1:consumer.read", rendered)

	parsed, err := ParseTrace(rendered)
	require.NoError(t, err)
	assert.Equal(t, tr, parsed)
}

func TestParseTraceAcceptsArrowSeparator(t *testing.T) {
	parsed, err := ParseTrace("0:a.op>1:b.op")
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, engine.TaskID(0), parsed[0].ID)
	assert.Equal(t, engine.TaskID(1), parsed[1].ID)
}

func TestParseTraceAcceptsBareIDs(t *testing.T) {
	parsed, err := ParseTrace("0,1,0")
	require.NoError(t, err)
	assert.Equal(t, []engine.TaskID{0, 1, 0}, parsed.IDs())
}

func TestParseTraceEmptyStringIsEmptyTrace(t *testing.T) {
	parsed, err := ParseTrace("")
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseTraceRejectsGarbage(t *testing.T) {
	_, err := ParseTrace("not-an-id")
	assert.Error(t, err)
}
