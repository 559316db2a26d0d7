// Package transport implements the three Modbus transports the controller
// speaks — TCP, RTU-over-gateway, and RTU-direct-serial — behind one
// interface. It is
// grounded on original_source/controller/services/device/modbus_client.py's
// ModbusClient/ModbusSerialClient split (connect/read/write-with-
// reconnect), re-expressed with github.com/goburrow/modbus as the wire
// layer since no pack repo speaks Modbus (named, non-grounded addition —
// see DESIGN.md).
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/volteria/controller-core/internal/model"
)

// DefaultTimeout matches the 3s timeout the original Python client used.
const DefaultTimeout = 3 * time.Second

// ErrorClass distinguishes transport-level failures (retryable, device
// unreachable) from register-level failures (exception code, address
// validation — not retryable).
type ErrorClass int

const (
	ClassTransport ErrorClass = iota
	ClassRegister
)

// Error wraps a transport or register failure with its class.
type Error struct {
	Class ErrorClass
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func transportErr(format string, args ...any) error {
	return &Error{Class: ClassTransport, Err: fmt.Errorf(format, args...)}
}

func registerErr(format string, args ...any) error {
	return &Error{Class: ClassRegister, Err: fmt.Errorf(format, args...)}
}

// IsRegisterClass reports whether err is a non-retryable register-class
// failure (exception code or address validation).
func IsRegisterClass(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Class == ClassRegister
}

// Transport is the common surface all three physical layers implement
type Transport interface {
	// Connect establishes the underlying connection if not already open.
	Connect(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
	ReadHolding(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error)
	ReadInput(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error)
	WriteRegister(ctx context.Context, slaveID byte, address, value uint16) error
	WriteRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16) error
	// Key returns the connection-pool key this transport answers to.
	Key() string
}

// New builds the appropriate Transport implementation for a model.Transport
// descriptor.
func New(t model.Transport) (Transport, error) {
	switch t.Kind {
	case model.TransportTCP, model.TransportRTUGateway:
		return newTCP(t), nil
	case model.TransportRTUDirect:
		return newSerial(t), nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", t.Kind)
	}
}

// --- TCP / RTU-over-gateway -------------------------------------------------

type tcpTransport struct {
	desc    model.Transport
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func newTCP(t model.Transport) *tcpTransport {
	addr := fmt.Sprintf("%s:%d", t.Host, t.Port)
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = DefaultTimeout
	return &tcpTransport{desc: t, handler: handler}
}

func (t *tcpTransport) Key() string { return t.desc.PoolKey() }

func (t *tcpTransport) Connect(ctx context.Context) error {
	if err := t.handler.Connect(); err != nil {
		return transportErr("connect %s: %w", t.desc.PoolKey(), err)
	}
	t.client = modbus.NewClient(t.handler)
	return nil
}

func (t *tcpTransport) Close() error {
	if t.handler == nil {
		return nil
	}
	return t.handler.Close()
}

func (t *tcpTransport) withSlave(slaveID byte, fn func() ([]byte, error)) ([]byte, error) {
	t.handler.SlaveId = slaveID
	return fn()
}

func (t *tcpTransport) ReadHolding(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error) {
	raw, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.ReadHoldingRegisters(address, count)
	})
	return classifyAndDecode(raw, err)
}

func (t *tcpTransport) ReadInput(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error) {
	raw, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.ReadInputRegisters(address, count)
	})
	return classifyAndDecode(raw, err)
}

func (t *tcpTransport) WriteRegister(ctx context.Context, slaveID byte, address, value uint16) error {
	_, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.WriteSingleRegister(address, value)
	})
	return classifyWriteErr(err)
}

func (t *tcpTransport) WriteRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16) error {
	payload := make([]byte, len(values)*2)
	for i, v := range values {
		payload[i*2] = byte(v >> 8)
		payload[i*2+1] = byte(v)
	}
	_, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.WriteMultipleRegisters(address, uint16(len(values)), payload)
	})
	return classifyWriteErr(err)
}

// --- RTU-direct serial -------------------------------------------------------

type serialTransport struct {
	desc    model.Transport
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

func newSerial(t model.Transport) *serialTransport {
	handler := modbus.NewRTUClientHandler(t.SerialPort)
	handler.BaudRate = t.BaudRate
	handler.DataBits = t.DataBits
	handler.Parity = t.Parity
	handler.StopBits = t.StopBits
	handler.Timeout = DefaultTimeout
	return &serialTransport{desc: t, handler: handler}
}

func (t *serialTransport) Key() string { return t.desc.PoolKey() }

func (t *serialTransport) Connect(ctx context.Context) error {
	if err := t.handler.Connect(); err != nil {
		return transportErr("connect %s: %w", t.desc.SerialPort, err)
	}
	t.client = modbus.NewClient(t.handler)
	return nil
}

func (t *serialTransport) Close() error {
	if t.handler == nil {
		return nil
	}
	return t.handler.Close()
}

func (t *serialTransport) withSlave(slaveID byte, fn func() ([]byte, error)) ([]byte, error) {
	t.handler.SlaveId = slaveID
	return fn()
}

func (t *serialTransport) ReadHolding(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error) {
	raw, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.ReadHoldingRegisters(address, count)
	})
	return classifyAndDecode(raw, err)
}

func (t *serialTransport) ReadInput(ctx context.Context, slaveID byte, address, count uint16) ([]uint16, error) {
	raw, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.ReadInputRegisters(address, count)
	})
	return classifyAndDecode(raw, err)
}

func (t *serialTransport) WriteRegister(ctx context.Context, slaveID byte, address, value uint16) error {
	_, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.WriteSingleRegister(address, value)
	})
	return classifyWriteErr(err)
}

func (t *serialTransport) WriteRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16) error {
	payload := make([]byte, len(values)*2)
	for i, v := range values {
		payload[i*2] = byte(v >> 8)
		payload[i*2+1] = byte(v)
	}
	_, err := t.withSlave(slaveID, func() ([]byte, error) {
		return t.client.WriteMultipleRegisters(address, uint16(len(values)), payload)
	})
	return classifyWriteErr(err)
}

// --- shared decode/classify helpers -----------------------------------------

func classifyAndDecode(raw []byte, err error) ([]uint16, error) {
	if err != nil {
		return nil, classifyReadErr(err)
	}
	words := make([]uint16, len(raw)/2)
	for i := range words {
		words[i] = uint16(raw[i*2])<<8 | uint16(raw[i*2+1])
	}
	return words, nil
}

// classifyReadErr distinguishes a Modbus exception/address-validation
// response (register-class, not retried) from a connection/timeout failure
// (transport-class, retried by the caller).
func classifyReadErr(err error) error {
	if me, ok := err.(*modbus.ModbusError); ok {
		return registerErr("modbus exception %d: %w", me.ExceptionCode, me)
	}
	return transportErr("%w", err)
}

func classifyWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*modbus.ModbusError); ok {
		return registerErr("modbus exception %d: %w", me.ExceptionCode, me)
	}
	return transportErr("%w", err)
}
