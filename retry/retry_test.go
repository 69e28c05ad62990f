package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		MaxElapsed:  time.Minute,
		BaseDelay:   time.Millisecond,
		Sleep:       func(time.Duration) {},
	}
}

func TestPolicyDo(t *testing.T) {
	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := testPolicy(3).Do("op", Always, func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		calls := 0
		err := testPolicy(5).Do("op", Always, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after exactly max attempts and returns last error", func(t *testing.T) {
		calls := 0
		last := errors.New("still broken")
		err := testPolicy(3).Do("op", Always, func() error {
			calls++
			return last
		})
		assert.Equal(t, 3, calls)
		assert.Equal(t, last, err)
	})

	t.Run("fatal error stops immediately", func(t *testing.T) {
		calls := 0
		fatal := errors.New("auth failure")
		never := func(error) bool { return false }
		err := testPolicy(10).Do("op", never, func() error {
			calls++
			return fatal
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, fatal, err)
	})

	t.Run("delay doubles between attempts", func(t *testing.T) {
		var delays []time.Duration
		p := Policy{
			MaxAttempts: 4,
			MaxElapsed:  time.Minute,
			BaseDelay:   time.Second,
			Sleep:       func(d time.Duration) { delays = append(delays, d) },
		}
		_ = p.Do("op", Always, func() error { return errors.New("x") })
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	})

	t.Run("max delay caps backoff", func(t *testing.T) {
		var delays []time.Duration
		p := Policy{
			MaxAttempts: 5,
			MaxElapsed:  time.Minute,
			BaseDelay:   time.Second,
			MaxDelay:    2 * time.Second,
			Sleep:       func(d time.Duration) { delays = append(delays, d) },
		}
		_ = p.Do("op", Always, func() error { return errors.New("x") })
		require.Len(t, delays, 4)
		assert.Equal(t, 2*time.Second, delays[2])
		assert.Equal(t, 2*time.Second, delays[3])
	})

	t.Run("elapsed budget stops before next sleep", func(t *testing.T) {
		calls := 0
		p := Policy{
			MaxAttempts: 100,
			MaxElapsed:  time.Nanosecond,
			BaseDelay:   time.Second,
			Sleep:       func(time.Duration) { t.Fatal("should not sleep") },
		}
		last := errors.New("slow backend")
		err := p.Do("op", Always, func() error {
			calls++
			return last
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, last, err)
	})
}
