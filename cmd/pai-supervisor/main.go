package main

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/db"
	"github.com/thatsimonsguy/pai-supervisor/internal/config"
	"github.com/thatsimonsguy/pai-supervisor/internal/datadog"
	"github.com/thatsimonsguy/pai-supervisor/internal/events"
	"github.com/thatsimonsguy/pai-supervisor/internal/logging"
	"github.com/thatsimonsguy/pai-supervisor/internal/network"
	"github.com/thatsimonsguy/pai-supervisor/internal/notifications"
	"github.com/thatsimonsguy/pai-supervisor/internal/peer"
	"github.com/thatsimonsguy/pai-supervisor/internal/portal"
	"github.com/thatsimonsguy/pai-supervisor/internal/radio"
	"github.com/thatsimonsguy/pai-supervisor/internal/relay"
	"github.com/thatsimonsguy/pai-supervisor/internal/supervisor"
	"github.com/thatsimonsguy/pai-supervisor/system/shutdown"
)

const peerEventDepth = 32

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile, cfg.Console)

	log.Info().
		Str("device_id", cfg.DeviceID).
		Str("config", cfg.ConfigFile).
		Str("db", cfg.DBPath).
		Msg("Starting PAI supervisor")

	datadog.InitMetrics(&cfg)
	notifier := notifications.New(cfg.NtfyTopic)

	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("Credential store unavailable, using default credentials")
		dbConn = nil
	}
	store := db.NewCredentialStore(dbConn, cfg.DefaultCredentials)
	datadog.BoolGauge("store.available", store.Available())

	station := network.NewNMStation(cfg.WifiInterface, cfg.APInterface)
	connector := network.NewConnector(station, cfg.ConnectPoll())

	rad := openRadio(&cfg)
	var registry *peer.Registry
	if rad != nil {
		registry = peer.NewRegistry(rad, events.NewQueue(peerEventDepth), cfg.PeerTimeout())
	}

	rl := relay.New(relay.OptionsFromConfig(cfg.Relay))

	pt := portal.New(portal.Options{
		SSID:           cfg.PortalSSID,
		Passphrase:     cfg.PortalPassphrase,
		ListenAddr:     cfg.PortalListenAddr,
		CloseDelay:     cfg.PortalCloseDelay(),
		ConnectTimeout: cfg.ConnectTimeout(),
	}, station, connector, store)

	sup := supervisor.New(supervisor.OptionsFromConfig(&cfg), supervisor.Deps{
		Station:   station,
		Connector: connector,
		Store:     store,
		Portal:    pt,
		Relay:     rl,
		Registry:  registry,
		Notifier:  notifier,
	})
	pt.OnProvisioned = sup.Provisioned
	rl.OnConnect = sup.Identify

	ctx, stop := shutdown.SignalContext(context.Background())
	defer stop()

	sup.Run(ctx, cfg.TickInterval())

	shutdown.Shutdown(
		shutdown.Step{Name: "portal", Close: func() error { pt.Stop(); return nil }},
		shutdown.Step{Name: "relay", Close: rl.Close},
		shutdown.Step{Name: "radio", Close: closeRadio(rad)},
		shutdown.Step{Name: "store", Close: closeDB(dbConn)},
		shutdown.Step{Name: "metrics", Close: func() error { datadog.Close(); return nil }},
	)
}

// openRadio returns nil when the radio cannot be brought up; the supervisor
// then runs without peers.
func openRadio(cfg *config.Config) radio.Radio {
	switch cfg.Radio.Driver {
	case "stub":
		log.Warn().Msg("Using stub radio, no peer traffic will be exchanged")
		return radio.NewStub(cfg.Radio.PeerTableSize)
	default:
		bridge, err := radio.OpenSerial(cfg.Radio.Port, cfg.Radio.BaudRate, cfg.Radio.PeerTableSize)
		if err != nil {
			log.Error().Err(err).Msg("Radio unavailable, continuing in safe mode")
			return nil
		}
		return bridge
	}
}

func closeRadio(r radio.Radio) func() error {
	if r == nil {
		return nil
	}
	return r.Close
}

func closeDB(conn *sql.DB) func() error {
	if conn == nil {
		return nil
	}
	return conn.Close
}
