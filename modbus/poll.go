package modbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/metersim/modbusaccess"
	"github.com/cepro/metersim/telemetry"
	gridx "github.com/grid-x/modbus"
)

// MeterRegisters is the decoded content of one meter's block of holding registers.
type MeterRegisters struct {
	MeterID   string
	Reading   float64
	Rate      telemetry.Rate
	Rollovers uint16
}

// ReadMeters reads the registers of each meter, laid out the way Server lays them out, through the given client.
func ReadMeters(client gridx.Client, meterIDs []string) ([]MeterRegisters, error) {
	readings := make([]MeterRegisters, 0, len(meterIDs))
	for i, meterID := range meterIDs {
		values, err := modbusaccess.PollBlock(client, MeterBlock(i, meterID))
		if err != nil {
			return nil, fmt.Errorf("poll meter '%s': %w", meterID, err)
		}

		code := values[RegisterRate].(uint16)
		rate, ok := telemetry.RateFromCode(code)
		if !ok {
			return nil, fmt.Errorf("meter '%s' has unknown rate code %d", meterID, code)
		}

		readings = append(readings, MeterRegisters{
			MeterID:   meterID,
			Reading:   telemetry.Round3(values[RegisterReading].(float64)),
			Rate:      rate,
			Rollovers: values[RegisterRollovers].(uint16),
		})
	}
	return readings, nil
}

// Poller reads the meter registers of a running simulator over Modbus TCP and logs them.
type Poller struct {
	meterIDs []string
	handler  *gridx.TCPClientHandler
	client   gridx.Client
	logger   *slog.Logger
}

func NewPoller(host string, meterIDs []string) *Poller {
	handler := gridx.NewTCPClientHandler(host)
	handler.Timeout = 5 * time.Second
	handler.SlaveID = 0x01

	return &Poller{
		meterIDs: meterIDs,
		handler:  handler,
		client:   gridx.NewClient(handler),
		logger:   slog.Default().With("modbus_host", host),
	}
}

// Run polls on every tick until the context is cancelled. A failed poll is logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, ticks <-chan time.Time) error {
	defer p.handler.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			if _, err := p.Poll(); err != nil {
				p.logger.Error("Modbus poll failed", "error", err)
			}
		}
	}
}

// Poll reads every meter once and logs the values.
func (p *Poller) Poll() ([]MeterRegisters, error) {
	readings, err := ReadMeters(p.client, p.meterIDs)
	if err != nil {
		return nil, err
	}
	for _, r := range readings {
		p.logger.Info("Polled meter", "meter_id", r.MeterID, "reading", r.Reading, "rate", r.Rate, "rollovers", r.Rollovers)
	}
	return readings, nil
}
