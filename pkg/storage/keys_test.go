package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyConstruction(t *testing.T) {
	assert.Equal(t, "record.b1.records", recordSetKey("record", "b1"))
	assert.Equal(t, "record.b1.r1.records", recordKey("record", "b1", "r1"))
	assert.Equal(t, "record.b1.deleted", deletedSetKey("record", "b1"))
	assert.Equal(t, "record.b1.r1.deleted", deletedKey("record", "b1", "r1"))
	assert.Equal(t, "record.b1.timestamp", timestampKey("record", "b1"))
}

func TestKeyWildcard(t *testing.T) {
	assert.Equal(t, "*.b1.records", recordSetKey("", "b1"))
	assert.Equal(t, "*.*.deleted", deletedSetKey("", "*"))
}

func TestParseScopeSetKey(t *testing.T) {
	resource, parent, ok := parseScopeSetKey("record.b1.records")
	assert.True(t, ok)
	assert.Equal(t, "record", resource)
	assert.Equal(t, "b1", parent)

	_, _, ok = parseScopeSetKey("too.many.segments.records")
	assert.False(t, ok)

	_, _, ok = parseScopeSetKey("short")
	assert.False(t, ok)
}
