package modbus

import (
	"context"
	"time"

	"github.com/volteria/controller-core/internal/apperr"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/modbus/codec"
	"github.com/volteria/controller-core/internal/modbus/pool"
)

// Writer performs write+verify register writes, holding the bus mutex
// across the entire sequence for RTU-direct devices.
type Writer struct {
	pool *pool.Pool
}

// NewWriter builds a Writer bound to a connection pool.
func NewWriter(p *pool.Pool) *Writer {
	return &Writer{pool: p}
}

// WriteVerify writes value to reg on dev, sleeps the settle time, reads the
// register back, and compares within tolerance. A mismatch yields
// apperr.CodeCommandNotTaken.
func (w *Writer) WriteVerify(ctx context.Context, dev model.Device, reg model.Register, value float64) error {
	if dev.Transport.Kind == model.TransportRTUDirect {
		mu := w.pool.BusMutex(dev.Transport)
		mu.Lock()
		defer mu.Unlock()
	}
	return w.writeVerifyLocked(ctx, dev, reg, value)
}

// writeVerifyLocked performs the write+verify without acquiring the bus
// mutex — used internally by composite operations that already hold it.
func (w *Writer) writeVerifyLocked(ctx context.Context, dev model.Device, reg model.Register, value float64) error {
	conn, err := w.pool.Get(ctx, dev.Transport)
	if err != nil {
		return apperr.Wrap(apperr.CodeCommunication, "connect failed", err)
	}

	words, err := codec.Encode(reg, value)
	if err != nil {
		return apperr.Wrap(apperr.CodeRegister, "encode failed", err)
	}

	if len(words) == 1 {
		err = conn.WriteRegister(ctx, dev.SlaveID, reg.Address, words[0])
	} else {
		err = conn.WriteRegisters(ctx, dev.SlaveID, reg.Address, words)
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeWrite, "write failed", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settleTime):
	}

	count := uint16(reg.Encoding.WordCount(reg.WordCount))
	var readBack []uint16
	if reg.Kind == model.RegisterInput {
		readBack, err = conn.ReadInput(ctx, dev.SlaveID, reg.Address, count)
	} else {
		readBack, err = conn.ReadHolding(ctx, dev.SlaveID, reg.Address, count)
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeCommandNotTaken, "read-back failed", err)
	}

	got, ok, err := codec.Decode(reg, readBack)
	if err != nil || !ok {
		return apperr.New(apperr.CodeCommandNotTaken, "read-back decode failed")
	}

	if !codec.WithinTolerance(value, got) {
		return apperr.New(apperr.CodeCommandNotTaken, "write verify mismatch").
			WithDetail("written", value).
			WithDetail("read_back", got)
	}
	return nil
}

// SetSolarLimit atomically (within the bus mutex) enables the solar-limit
// function and writes+verifies the limit register.
func (w *Writer) SetSolarLimit(ctx context.Context, dev model.Device, enableReg, limitReg model.Register, limitValue float64) error {
	if dev.Transport.Kind == model.TransportRTUDirect {
		mu := w.pool.BusMutex(dev.Transport)
		mu.Lock()
		defer mu.Unlock()
	}

	if err := w.writeVerifyLocked(ctx, dev, enableReg, 1); err != nil {
		return apperr.Wrap(apperr.CodeWrite, "enable register write failed", err)
	}
	return w.writeVerifyLocked(ctx, dev, limitReg, limitValue)
}
