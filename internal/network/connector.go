package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

var (
	ErrJoinTimeout     = errors.New("network join timed out")
	ErrMissingSSID = errors.New("credentials have no ssid")
)

// Connector performs one bounded join attempt. It never retries on its own.
type Connector struct {
	station Station
	poll    time.Duration
	sleep   func(time.Duration)
	now     func() time.Time
}

func NewConnector(station Station, poll time.Duration) *Connector {
	return &Connector{
		station: station,
		poll:    poll,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// WithClock swaps the sleep and clock functions used by the join poll.
func (c *Connector) WithClock(sleep func(time.Duration), now func() time.Time) *Connector {
	c.sleep = sleep
	c.now = now
	return c
}

// Connect joins the network in creds, polling until joined or timeout elapses.
// With keepAP the portal access point is left running alongside the station.
func (c *Connector) Connect(creds model.Credentials, timeout time.Duration, keepAP bool) error {
	// open networks join with an empty password
	if creds.SSID == "" {
		return ErrMissingSSID
	}

	if !keepAP && c.station.APActive() {
		if err := c.station.StopAP(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop access point before joining")
		}
	}

	log.Info().
		Str("ssid", creds.SSID).
		Dur("timeout", timeout).
		Bool("keep_ap", keepAP).
		Msg("Joining network")

	start := c.now()
	if err := c.station.Join(creds); err != nil {
		return fmt.Errorf("join %s: %w", creds.SSID, err)
	}

	for {
		if c.station.Connected() {
			log.Info().
				Str("ssid", creds.SSID).
				Str("ip", c.station.LocalIP()).
				Dur("elapsed", c.now().Sub(start)).
				Msg("Network joined")
			return nil
		}
		if c.now().Sub(start) >= timeout {
			log.Warn().
				Str("ssid", creds.SSID).
				Dur("timeout", timeout).
				Msg("Network join timed out")
			return fmt.Errorf("join %s: %w", creds.SSID, ErrJoinTimeout)
		}
		c.sleep(c.poll)
	}
}
