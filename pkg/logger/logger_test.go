package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWithoutContextFields(t *testing.T) {
	entry := Logger(context.Background())
	require.NotNil(t, entry)
	assert.NotContains(t, entry.Data, "request_id")
}

func TestLoggerNilContext(t *testing.T) {
	assert.NotNil(t, Logger(nil)) //nolint:staticcheck // exercising the nil guard
}

func TestWithRequestId(t *testing.T) {
	ctx := WithRequestId(context.Background(), "req-42")
	entry := Logger(ctx)
	assert.Equal(t, "req-42", entry.Data["request_id"])
}
