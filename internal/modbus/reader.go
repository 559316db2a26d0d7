// Package modbus wires the transport/pool/codec layers into the read and
// write operations the device service calls on every poll tick. It is grounded on the retry/classify shape of
// original_source/controller/services/device/modbus_client.py, translated
// to explicit Go error returns instead of exceptions.
package modbus

import (
	"context"
	"errors"
	"time"

	"github.com/volteria/controller-core/internal/apperr"
	"github.com/volteria/controller-core/internal/model"
	"github.com/volteria/controller-core/internal/modbus/codec"
	"github.com/volteria/controller-core/internal/modbus/pool"
	"github.com/volteria/controller-core/internal/modbus/transport"
)

// retryDelay is the pause between the up-to-two retries on transport
// errors.
const retryDelay = 500 * time.Millisecond

// settleTime is the pause between a write and its verify read.
const settleTime = 200 * time.Millisecond

// ReadResult is the outcome of reading one register. String registers
// populate StringValue instead of Value.
type ReadResult struct {
	Register    model.Register
	Value       float64
	StringValue string
	HasValue    bool
	Err         error
}

// Reader reads a device's due registers, classifying and retrying failures
// before giving up on a register.
type Reader struct {
	pool *pool.Pool
}

// NewReader builds a Reader bound to a connection pool.
func NewReader(p *pool.Pool) *Reader {
	return &Reader{pool: p}
}

// ReadDevice reads every register in registers from dev, holding the
// device's bus mutex for RTU-direct transports across the whole batch. It
// returns per-register results and, separately, whether the device should
// be marked "connection failed for this cycle": once
// that happens, remaining registers are skipped and reported as failed
// without individual log noise — callers are expected to log one summary.
func (r *Reader) ReadDevice(ctx context.Context, dev model.Device, registers []model.Register) ([]ReadResult, bool) {
	if dev.Transport.Kind == model.TransportRTUDirect {
		mu := r.pool.BusMutex(dev.Transport)
		mu.Lock()
		defer mu.Unlock()
	}

	conn, err := r.pool.Get(ctx, dev.Transport)
	if err != nil {
		return allFailed(registers, apperr.Wrap(apperr.CodeCommunication, "connect failed", err)), true
	}

	results := make([]ReadResult, 0, len(registers))
	connectionFailed := false

	for _, reg := range registers {
		if connectionFailed {
			results = append(results, ReadResult{Register: reg, Err: apperr.New(apperr.CodeCommunication, "device connection failed this cycle")})
			continue
		}

		words, err := r.readWithRetry(ctx, conn, dev, reg)
		if err != nil {
			results = append(results, ReadResult{Register: reg, Err: err})
			if !transport.IsRegisterClass(err) {
				connectionFailed = true
				if dev.Transport.Kind == model.TransportRTUDirect {
					_, _ = r.pool.Reconnect(ctx, dev.Transport)
				}
			}
			continue
		}

		if reg.Encoding == model.EncodingString {
			results = append(results, ReadResult{Register: reg, StringValue: codec.DecodeString(words), HasValue: true})
			continue
		}

		value, ok, err := codec.Decode(reg, words)
		if err != nil {
			results = append(results, ReadResult{Register: reg, Err: apperr.Wrap(apperr.CodeRegister, "decode failed", err)})
			continue
		}
		results = append(results, ReadResult{Register: reg, Value: value, HasValue: ok})
	}

	return results, connectionFailed
}

func (r *Reader) readWithRetry(ctx context.Context, conn transport.Transport, dev model.Device, reg model.Register) ([]uint16, error) {
	count := uint16(reg.Encoding.WordCount(reg.WordCount))

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var words []uint16
		var err error
		if reg.Kind == model.RegisterInput {
			words, err = conn.ReadInput(ctx, dev.SlaveID, reg.Address, count)
		} else {
			words, err = conn.ReadHolding(ctx, dev.SlaveID, reg.Address, count)
		}
		if err == nil {
			return words, nil
		}
		lastErr = err
		if transport.IsRegisterClass(err) {
			// Exception-code / address-validation errors are never retried
			return nil, apperr.Wrap(apperr.CodeRegister, "register error", err)
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, apperr.Wrap(apperr.CodeCommunication, "transport error after retries", lastErr)
}

func allFailed(registers []model.Register, err error) []ReadResult {
	out := make([]ReadResult, 0, len(registers))
	for _, reg := range registers {
		out = append(out, ReadResult{Register: reg, Err: err})
	}
	return out
}

// FailureThreshold is the default consecutive-failure count past which a
// register is reported for alarm generation.
const FailureThreshold = 20

var errUnknownRegister = errors.New("modbus: register not found on device")
