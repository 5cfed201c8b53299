package network

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
	"github.com/thatsimonsguy/pai-supervisor/internal/nmcli"
)

// Station is the device's Wi-Fi radio: station-mode join plus an optional local access point.
type Station interface {
	Join(creds model.Credentials) error
	Connected() bool
	LocalIP() string
	MAC() string
	Signal() int
	StartAP(ssid, passphrase string) error
	StopAP() error
	APActive() bool
	Scan() ([]model.Network, error)
}

const hotspotConnection = "pai-portal"

// nmStation backs Station with NetworkManager. Device state is cached briefly
// since the supervisor asks for it every tick.
type nmStation struct {
	iface     string
	apIface   string
	ttl       time.Duration
	signalTTL time.Duration
	now       func() time.Time

	mu        sync.Mutex
	state     nmcli.DeviceState
	fetchedAt time.Time
	signal    int
	signalAt  time.Time
	apActive  bool
}

func NewNMStation(iface, apIface string) Station {
	return &nmStation{
		iface:     iface,
		apIface:   apIface,
		ttl:       200 * time.Millisecond,
		signalTTL: 2 * time.Second,
		now:       time.Now,
	}
}

func (s *nmStation) refresh() nmcli.DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.fetchedAt.IsZero() && now.Sub(s.fetchedAt) < s.ttl {
		return s.state
	}

	state, err := nmcli.Device(s.iface)
	if err != nil {
		log.Debug().Err(err).Str("iface", s.iface).Msg("Failed to read device state")
		state = nmcli.DeviceState{}
	}
	s.state = state
	s.fetchedAt = now
	return state
}

func (s *nmStation) invalidate() {
	s.mu.Lock()
	s.fetchedAt = time.Time{}
	s.signalAt = time.Time{}
	s.mu.Unlock()
}

func (s *nmStation) Join(creds model.Credentials) error {
	s.invalidate()
	return nmcli.Connect(s.iface, creds)
}

// Connected is false while the interface only hosts the portal hotspot.
func (s *nmStation) Connected() bool {
	state := s.refresh()
	return state.Connected() && state.Connection != hotspotConnection
}

func (s *nmStation) LocalIP() string {
	return s.refresh().IPv4
}

func (s *nmStation) MAC() string {
	return s.refresh().HWAddr
}

// Signal is the joined network's strength in percent, 0 when unknown.
// A wifi list costs far more than a device query, so it is cached longer.
func (s *nmStation) Signal() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.signalAt.IsZero() && now.Sub(s.signalAt) < s.signalTTL {
		return s.signal
	}

	signal, err := nmcli.ActiveSignal(s.iface)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read signal strength")
		signal = 0
	}
	s.signal = signal
	s.signalAt = now
	return signal
}

func (s *nmStation) StartAP(ssid, passphrase string) error {
	if err := nmcli.StartHotspot(s.apIface, hotspotConnection, ssid, passphrase); err != nil {
		return err
	}
	s.mu.Lock()
	s.apActive = true
	s.mu.Unlock()
	s.invalidate()
	return nil
}

func (s *nmStation) StopAP() error {
	s.mu.Lock()
	active := s.apActive
	s.apActive = false
	s.mu.Unlock()
	if !active {
		return nil
	}
	s.invalidate()
	return nmcli.StopConnection(hotspotConnection)
}

func (s *nmStation) APActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apActive
}

func (s *nmStation) Scan() ([]model.Network, error) {
	return nmcli.Scan(s.iface)
}
