// Package statsd is a helper package that wraps some common statsd methods.
// It hides the datadog dependency so if we decide to migrate away from datadog in the future, we
// only need to edit this single file.
package statsd

import (
	"sync/atomic"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client atomic.Pointer[ddstatsd.ClientInterface] //nolint:gochecknoglobals // process-wide metrics client

func init() { //nolint:gochecknoinits // default to a no-op client
	reset()
}

// Client returns the current client. It is a no-op client until Init succeeds.
func Client() ddstatsd.ClientInterface {
	return *client.Load()
}

// EmitTickStat records the duration of an update stage.
func EmitTickStat(start time.Time, stage string) {
	duration := time.Since(start)
	if err := Client().Timing("tick", duration, []string{"stage:" + stage}, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit tick stat: %v", err)
	}
}

// EmitJobStat records the time between a job being scheduled and its last chunk finishing.
func EmitJobStat(scheduled time.Time, job string) {
	duration := time.Since(scheduled)
	if err := Client().Timing("job", duration, []string{"job:" + job}, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit job stat: %v", err)
	}
}

// EmitGauge records the current value of a gauge.
func EmitGauge(name string, value float64) {
	if err := Client().Gauge(name, value, nil, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit gauge %s: %v", name, err)
	}
}

// Init replaces the global client with one sending to address.
func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("archecs"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to create statsd client")
	}
	// Success! replace the global client
	var c ddstatsd.ClientInterface = newClient
	client.Store(&c)
	return nil
}

// Close flushes and closes the global client, then falls back to the no-op client.
func Close() error {
	err := Client().Close()
	reset()
	if err != nil {
		return eris.Wrap(err, "failed to close statsd client")
	}
	return nil
}

func reset() {
	var c ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}
	client.Store(&c)
}
