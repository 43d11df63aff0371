// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"

	serial "github.com/jacobsa/go-serial/serial"
)

// DefaultBaudRate is the fixed rate of the receiver dongle.
const DefaultBaudRate = 115200

// readTimeoutMs bounds each port read so Stop can interrupt a quiet link.
const readTimeoutMs = 100

// SerialSource reads frames from the receiver's serial port.
type SerialSource struct {
	PortName string
	BaudRate int
}

func NewSerialSource(port string, baud int) *SerialSource {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &SerialSource{PortName: port, BaudRate: baud}
}

func (s *SerialSource) Name() string { return "serial " + s.PortName }

func (s *SerialSource) Open() (Stream, error) {
	opts := serial.OpenOptions{
		PortName:              s.PortName,
		BaudRate:              uint(s.BaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: readTimeoutMs,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", s.PortName, err)
	}
	log.Printf("capture: serial port opened on %s at %d baud", opts.PortName, opts.BaudRate)

	return newLiveStream(&pollingPort{port: port}), nil
}

// pollingPort turns the port's read timeouts into retries until it is closed,
// at which point reads report io.EOF.
type pollingPort struct {
	port   io.ReadWriteCloser
	closed atomic.Bool
}

func (p *pollingPort) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, io.EOF
		}
		n, err := p.port.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			if p.closed.Load() {
				return 0, io.EOF
			}
			return 0, err
		}
	}
}

func (p *pollingPort) Close() error {
	p.closed.Store(true)
	return p.port.Close()
}
