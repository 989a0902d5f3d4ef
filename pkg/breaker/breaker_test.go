package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

var (
	errRejected = errors.New("rejected")
	errDown     = errors.New("down")
)

func fail(err error) func() (int, error) {
	return func() (int, error) { return 0, err }
}

func TestNew_DefaultThreshold(t *testing.T) {
	cb := New[int](Config{Name: "test", Cooldown: time.Minute}, zerolog.Nop())
	for i := 0; i < DefaultFailureThreshold; i++ {
		_, _ = cb.Execute(fail(errDown))
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(fail(nil))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestNew_IsSuccessfulKeepsBreakerClosed(t *testing.T) {
	cb := New[int](Config{
		Name:             "test",
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errRejected)
		},
	}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(fail(errRejected))
		assert.ErrorIs(t, err, errRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	_, _ = cb.Execute(fail(errDown))
	_, _ = cb.Execute(fail(errDown))
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}
