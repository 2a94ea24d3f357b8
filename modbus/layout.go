package modbus

import "github.com/cepro/metersim/modbusaccess"

const (
	// registersPerMeter is the size of the block of holding registers that describes one meter
	registersPerMeter = 4

	RegisterReading   = "reading"
	RegisterRate      = "rate"
	RegisterRollovers = "rollovers"
)

// MeterBlock returns the holding registers of the meter at the given position in the feed:
// the cumulative reading in kWh as a float32, the consumption rate code and the number of rollovers so far.
func MeterBlock(index int, meterID string) modbusaccess.RegisterBlock {
	start := uint16(index * registersPerMeter)
	return modbusaccess.RegisterBlock{
		Name:         meterID,
		StartAddr:    start,
		NumRegisters: registersPerMeter,
		Registers: map[string]modbusaccess.Register{
			RegisterReading:   {StartAddr: start, DataType: modbusaccess.FloatType},
			RegisterRate:      {StartAddr: start + 2, DataType: modbusaccess.Uint16Type},
			RegisterRollovers: {StartAddr: start + 3, DataType: modbusaccess.Uint16Type},
		},
	}
}
