package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGoRunsJobAndWaits(t *testing.T) {
	runner := NewRunner(zap.NewNop(), time.Second)

	var ran atomic.Bool
	runner.Go("test", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	runner.Wait()

	assert.True(t, ran.Load())
}

func TestGoSurvivesPanic(t *testing.T) {
	runner := NewRunner(zap.NewNop(), time.Second)

	runner.Go("panics", func(ctx context.Context) error {
		panic("boom")
	})
	runner.Wait()

	var after atomic.Bool
	runner.Go("after", func(ctx context.Context) error {
		after.Store(true)
		return nil
	})
	runner.Wait()

	assert.True(t, after.Load())
}

func TestGoSwallowsJobError(t *testing.T) {
	runner := NewRunner(zap.NewNop(), time.Second)

	runner.Go("fails", func(ctx context.Context) error {
		return errors.New("storage unavailable")
	})
	runner.Wait()
}

func TestGoAppliesTimeout(t *testing.T) {
	runner := NewRunner(zap.NewNop(), 10*time.Millisecond)

	var sawDeadline atomic.Bool
	runner.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline.Store(true)
		return ctx.Err()
	})
	runner.Wait()

	assert.True(t, sawDeadline.Load())
}
