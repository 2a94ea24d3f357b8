package modbusaccess

import (
	"fmt"

	"github.com/grid-x/modbus"
)

// PollBlock reads a single register `block` from the `client` and returns a map of the parsed values, keyed by metric name.
func PollBlock(client modbus.Client, block RegisterBlock) (map[string]interface{}, error) {

	// read the whole block of bytes from the modbus device
	bytes, err := client.ReadHoldingRegisters(block.StartAddr, block.NumRegisters)
	if err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}

	return DecodeBlock(block, bytes)
}

// DecodeBlock extracts every register of interest from the raw bytes of a block.
func DecodeBlock(block RegisterBlock, bytes []byte) (map[string]interface{}, error) {

	metrics := make(map[string]interface{}, len(block.Registers))
	for key, register := range block.Registers {

		// sanity check the configuration to avoid out of bound panics
		offset := (int(register.StartAddr) - int(block.StartAddr)) * 2 // registers are two bytes long
		if offset < 0 {
			return nil, fmt.Errorf("register configuration for `%s` preceeds block", key)
		}
		if offset+int(register.DataType.dataLength) > len(bytes) {
			return nil, fmt.Errorf("register configuration for '%s' exceeds block", key)
		}

		val, err := register.DataType.Decode(bytes[offset:(offset + int(register.DataType.dataLength))])
		if err != nil {
			return nil, fmt.Errorf("decode '%s': %w", key, err)
		}
		metrics[key] = val
	}

	return metrics, nil
}
