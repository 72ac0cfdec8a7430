package influx

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/errtrack"
)

func TestDrainWriteErrors(t *testing.T) {
	var buf strings.Builder
	tracker := errtrack.NewTracker(zerolog.New(&buf))

	errorsCh := make(chan error, 3)
	errorsCh <- errors.New("write failed: 503")
	errorsCh <- errors.New("write failed: 503")
	errorsCh <- errors.New("write failed: timeout")
	close(errorsCh)

	drainWriteErrors(errorsCh, tracker)

	if got := tracker.Count(writeErrorContext); got != 3 {
		t.Errorf("Expected 3 tracked write errors, got %d", got)
	}
	if !strings.Contains(buf.String(), string(errtrack.KindStorage)) {
		t.Errorf("Expected write errors logged as storage errors, got %s", buf.String())
	}
}

func TestDrainWriteErrorsStopsOnClose(t *testing.T) {
	tracker := errtrack.NewTracker(zerolog.Nop())

	errorsCh := make(chan error)
	close(errorsCh)

	done := make(chan struct{})
	go func() {
		drainWriteErrors(errorsCh, tracker)
		close(done)
	}()

	<-done

	if got := tracker.Count(writeErrorContext); got != 0 {
		t.Errorf("Expected no tracked errors, got %d", got)
	}
}
