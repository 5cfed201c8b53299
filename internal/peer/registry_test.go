package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/pai-supervisor/internal/events"
	"github.com/thatsimonsguy/pai-supervisor/internal/model"
	"github.com/thatsimonsguy/pai-supervisor/internal/radio"
)

const (
	sensorMAC   = "24:6F:28:AA:00:01"
	actuatorMAC = "24:6F:28:AA:00:03"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *radio.Stub) {
	stub := radio.NewStub(20)
	reg := NewRegistry(stub, events.NewQueue(32), 5*time.Second)
	require.NoError(t, reg.Start())
	require.NoError(t, reg.RegisterPeer(sensorMAC, model.RoleSensor))
	require.NoError(t, reg.RegisterPeer(actuatorMAC, model.RoleActuator))
	return reg, stub
}

func mustAddr(t *testing.T, s string) model.PeerAddr {
	addr, err := model.ParsePeerAddr(s)
	require.NoError(t, err)
	return addr
}

func TestRegisterPeerFailures(t *testing.T) {
	tests := []struct {
		name      string
		tableSize int
		setup     func(*Registry)
		identity  string
		role      model.Role
		wantErr   error
	}{
		{"malformed identity", 20, nil, "not-a-mac", model.RoleSensor, nil},
		{"unknown role", 20, nil, sensorMAC, model.Role("camera"), ErrUnknownRole},
		{"duplicate role", 20, func(r *Registry) {
			require.NoError(t, r.RegisterPeer(sensorMAC, model.RoleSensor))
		}, "24:6F:28:AA:00:09", model.RoleSensor, ErrDuplicateRole},
		{"peer table full", 1, func(r *Registry) {
			require.NoError(t, r.RegisterPeer(sensorMAC, model.RoleSensor))
		}, actuatorMAC, model.RoleActuator, radio.ErrPeerTableFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(radio.NewStub(tt.tableSize), events.NewQueue(4), 5*time.Second)
			if tt.setup != nil {
				tt.setup(reg)
			}
			err := reg.RegisterPeer(tt.identity, tt.role)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			_, exists := reg.Peer(tt.role)
			if tt.setup == nil {
				assert.False(t, exists)
			}
		})
	}
}

func TestNextDecodesSensorReading(t *testing.T) {
	reg, stub := newTestRegistry(t)

	stub.InjectRx(mustAddr(t, sensorMAC), EncodeSensorRecord(SensorRecord{
		Distance: 42, ModuleID: SensorModuleID, Temperature: 24.5, Humidity: 61, SensorOK: 1,
	}))

	reading, ok := reg.Next(t0)
	require.True(t, ok)
	assert.Equal(t, 42, reading.Distance)
	assert.True(t, reading.Valid)
	assert.True(t, reading.ClimateOK)
	assert.InDelta(t, 24.5, reading.Temperature, 0.001)
	assert.Equal(t, t0, reading.ReceivedAt)
	assert.True(t, reg.Active(model.RoleSensor, t0))

	_, ok = reg.Next(t0)
	assert.False(t, ok)
}

func TestNextDiscardsMalformedAndUnknown(t *testing.T) {
	reg, stub := newTestRegistry(t)

	stub.InjectRx(mustAddr(t, sensorMAC), make([]byte, 19))
	stub.InjectRx(model.PeerAddr{0x02, 0, 0, 0, 0, 0x99}, make([]byte, SensorRecordSize))
	stub.InjectRx(mustAddr(t, actuatorMAC), make([]byte, 3))

	_, ok := reg.Next(t0)
	assert.False(t, ok)
	assert.False(t, reg.Active(model.RoleSensor, t0), "discarded payloads do not refresh liveness")
	assert.False(t, reg.Active(model.RoleActuator, t0))
}

func TestNextPreservesArrivalOrder(t *testing.T) {
	reg, stub := newTestRegistry(t)
	sensor := mustAddr(t, sensorMAC)

	for _, d := range []int32{150, 80, 40} {
		stub.InjectRx(sensor, EncodeSensorRecord(SensorRecord{Distance: d, ModuleID: SensorModuleID}))
	}

	var got []int
	for {
		r, ok := reg.Next(t0)
		if !ok {
			break
		}
		got = append(got, r.Distance)
	}
	assert.Equal(t, []int{150, 80, 40}, got)
}

func TestActuatorLivenessFollowsSendResults(t *testing.T) {
	reg, stub := newTestRegistry(t)

	require.NoError(t, reg.SendActuation(model.LevelWarning))
	_, ok := reg.Next(t0)
	assert.False(t, ok)
	assert.True(t, reg.Active(model.RoleActuator, t0))
	assert.True(t, reg.Active(model.RoleActuator, t0.Add(5*time.Second)))
	assert.False(t, reg.Active(model.RoleActuator, t0.Add(5*time.Second+time.Millisecond)))

	tx := stub.TxLog()
	require.Len(t, tx, 1)
	cmd, err := DecodeActuationCommand(tx[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, ActuationCommand{Level: 2, ModuleID: ActuatorModuleID}, cmd)

	stub.FailSends = true
	require.NoError(t, reg.SendActuation(model.LevelDanger))
	reg.Next(t0.Add(6 * time.Second))
	assert.False(t, reg.Active(model.RoleActuator, t0.Add(6*time.Second)))
	assert.Equal(t, 1, reg.SendFailures())
}

func TestSendWithoutPeer(t *testing.T) {
	reg := NewRegistry(radio.NewStub(20), events.NewQueue(4), 5*time.Second)
	require.NoError(t, reg.Start())
	assert.ErrorIs(t, reg.SendActuation(model.LevelSafe), ErrNoPeer)
}

func TestSensorRecordRoundTripAndValidity(t *testing.T) {
	rec := SensorRecord{Distance: -1, ModuleID: SensorModuleID, Temperature: 20, Humidity: 50, SensorOK: 0}
	decoded, err := DecodeSensorRecord(EncodeSensorRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	reading := decoded.Reading(t0)
	assert.False(t, reading.Valid)
	assert.False(t, reading.ClimateOK)
	assert.Equal(t, model.LevelSafe, model.LevelForReading(reading))
}
