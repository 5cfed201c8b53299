package peer

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

const (
	SensorRecordSize     = 20
	ActuationCommandSize = 8

	SensorModuleID   = 1
	ActuatorModuleID = 3
)

// SensorRecord is the sensor node's wire struct:
// int32 distance, int32 moduleId, float32 temperature, float32 humidity,
// uint8 sensorOk and three bytes of padding, little-endian.
type SensorRecord struct {
	Distance    int32
	ModuleID    int32
	Temperature float32
	Humidity    float32
	SensorOK    uint8
}

func DecodeSensorRecord(b []byte) (SensorRecord, error) {
	if len(b) != SensorRecordSize {
		return SensorRecord{}, fmt.Errorf("sensor record is %d bytes, expected %d", len(b), SensorRecordSize)
	}
	return SensorRecord{
		Distance:    int32(binary.LittleEndian.Uint32(b[0:4])),
		ModuleID:    int32(binary.LittleEndian.Uint32(b[4:8])),
		Temperature: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		Humidity:    math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
		SensorOK:    b[16],
	}, nil
}

func EncodeSensorRecord(r SensorRecord) []byte {
	b := make([]byte, SensorRecordSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Distance))
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.ModuleID))
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(r.Temperature))
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(r.Humidity))
	b[16] = r.SensorOK
	return b
}

// Reading converts the record; a negative distance marks an echo timeout.
func (r SensorRecord) Reading(at time.Time) model.SensorReading {
	return model.SensorReading{
		Distance:    int(r.Distance),
		Temperature: float64(r.Temperature),
		Humidity:    float64(r.Humidity),
		Valid:       r.Distance >= 0,
		ClimateOK:   r.SensorOK > 0,
		ReceivedAt:  at,
	}
}

// ActuationCommand is the actuator's wire struct: int32 vibrationLevel, int32 moduleId.
type ActuationCommand struct {
	Level    int32
	ModuleID int32
}

func EncodeActuationCommand(level model.ActuationLevel) []byte {
	b := make([]byte, ActuationCommandSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(int32(level)))
	binary.LittleEndian.PutUint32(b[4:8], uint32(int32(ActuatorModuleID)))
	return b
}

func DecodeActuationCommand(b []byte) (ActuationCommand, error) {
	if len(b) != ActuationCommandSize {
		return ActuationCommand{}, fmt.Errorf("actuation command is %d bytes, expected %d", len(b), ActuationCommandSize)
	}
	return ActuationCommand{
		Level:    int32(binary.LittleEndian.Uint32(b[0:4])),
		ModuleID: int32(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}
