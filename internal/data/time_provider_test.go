package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/draftmill/draftmill/internal/testutil"
)

// Every clock handed to a repository must satisfy the same port, the test
// clock included.
var (
	_ TimeProvider = (*RealTimeProvider)(nil)
	_ TimeProvider = (*FixedTimeProvider)(nil)
	_ TimeProvider = (*testutil.TestTimeProvider)(nil)
)

func TestFixedTimeProvider(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := NewFixedTimeProvider(start)

	assert.Equal(t, start, provider.Now())

	provider.AddTime(30 * time.Minute)
	assert.Equal(t, start.Add(30*time.Minute), provider.Now())

	later := start.Add(24 * time.Hour)
	provider.SetTime(later)
	assert.Equal(t, later, provider.Now())
}
