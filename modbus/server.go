package modbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cepro/metersim/modbusaccess"
	"github.com/cepro/metersim/session"
	"github.com/cepro/metersim/telemetry"
	"github.com/simonvetter/modbus"
)

// Server exposes the readings of one simulated feed as read-only Modbus TCP holding registers, so that the feed
// can be polled like a physical meter.
// It is the distribution channel of the session that drives it.
type Server struct {
	url    string
	meters map[string]modbusaccess.RegisterBlock
	logger *slog.Logger

	lock         sync.RWMutex
	registers    []uint16
	rollovers    map[string]uint16
	onDisconnect []func()
	closed       bool

	subServer *modbus.ModbusServer // the raw server of the underlying modbus library we are using
}

// NewServer creates a server that listens on the given host, e.g. "0.0.0.0:5020". Registers are laid out in the
// order of `meterIDs`, see MeterBlock.
func NewServer(host string, meterIDs []string) (*Server, error) {
	s := &Server{
		url:       fmt.Sprintf("tcp://%s", host),
		meters:    make(map[string]modbusaccess.RegisterBlock, len(meterIDs)),
		registers: make([]uint16, len(meterIDs)*registersPerMeter),
		rollovers: make(map[string]uint16, len(meterIDs)),
		logger:    slog.Default().With("modbus_host", host),
	}
	for i, meterID := range meterIDs {
		s.meters[meterID] = MeterBlock(i, meterID)
	}

	subServer, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        s.url,
		Timeout:    30 * time.Second,
		MaxClients: 10,
	}, s)
	if err != nil {
		return nil, fmt.Errorf("create modbus server: %w", err)
	}
	s.subServer = subServer

	return s, nil
}

// Run serves Modbus requests until the context is cancelled. Sessions registered for disconnection are then stopped.
func (s *Server) Run(ctx context.Context) error {
	err := s.subServer.Start()
	if err != nil {
		return fmt.Errorf("start modbus server: %w", err)
	}
	s.logger.Info("Modbus server listening")

	<-ctx.Done()

	err = s.subServer.Stop()
	s.close()
	if err != nil {
		return fmt.Errorf("stop modbus server: %w", err)
	}
	return nil
}

// Push writes the event into the registers of its meter.
func (s *Server) Push(subscriberID string, event telemetry.ReadingEvent) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return session.ErrSubscriberGone
	}
	block, ok := s.meters[event.MeterID]
	if !ok {
		return fmt.Errorf("no registers for meter '%s'", event.MeterID)
	}
	if event.Rollover {
		s.rollovers[event.MeterID]++
	}

	reading := block.Registers[RegisterReading]
	s.write(reading.StartAddr, reading.DataType.Encode(event.Reading))
	rate := block.Registers[RegisterRate]
	s.write(rate.StartAddr, rate.DataType.Encode(event.ConsumptionRate.Code()))
	rollovers := block.Registers[RegisterRollovers]
	s.write(rollovers.StartAddr, rollovers.DataType.Encode(s.rollovers[event.MeterID]))

	return nil
}

func (s *Server) OnDisconnect(subscriberID string, fn func()) {
	s.lock.Lock()
	if !s.closed {
		s.onDisconnect = append(s.onDisconnect, fn)
		s.lock.Unlock()
		return
	}
	s.lock.Unlock()
	fn()
}

// HandleHoldingRegisters serves reads of the meter registers. Writes are refused.
func (s *Server) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		return nil, modbus.ErrIllegalFunction
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	end := int(req.Addr) + int(req.Quantity)
	if req.Quantity == 0 || end > len(s.registers) {
		s.logger.Debug("Out of range read", "client", req.ClientAddr, "addr", req.Addr, "quantity", req.Quantity)
		return nil, modbus.ErrIllegalDataAddress
	}

	res := make([]uint16, req.Quantity)
	copy(res, s.registers[req.Addr:end])
	return res, nil
}

func (s *Server) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

func (s *Server) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (s *Server) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

// write must be called with the lock held.
func (s *Server) write(addr uint16, values []uint16) {
	copy(s.registers[addr:], values)
}

func (s *Server) close() {
	s.lock.Lock()
	s.closed = true
	fns := s.onDisconnect
	s.onDisconnect = nil
	s.lock.Unlock()

	for _, fn := range fns {
		fn()
	}
}
