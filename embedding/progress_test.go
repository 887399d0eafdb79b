package embedding

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 5)

	tracker.Add(3, 0)
	assert.Empty(t, buf.String(), "not started")

	tracker.Start()
	tracker.Add(3, 1)
	assert.Empty(t, buf.String(), "below report interval")

	tracker.Add(3, 0)
	assert.Contains(t, buf.String(), "Embedding: 6/10 (60.0%) failed=1")

	tracker.Add(20, 0)
	tracker.Finish()
	assert.Contains(t, buf.String(), "10/10 (100.0%)")
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
}
