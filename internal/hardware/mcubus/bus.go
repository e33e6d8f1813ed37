package mcubus

import (
	"bufio"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/squidcore/acquisition/internal/acqerrors"
)

// Bus serializes command/response exchanges with the stage
// microcontroller over a single serial connection, the same single-writer
// discipline as the teacher's SerialMux.SendCommand/commandMu.
type Bus struct {
	port   SerialPorter
	reader *bufio.Reader

	commandMu sync.Mutex
	timeout   time.Duration
}

// New wraps an already-open port. timeout bounds the whole SendCommand
// round trip (writing the command and reading its response line); past it
// SendCommand returns *acqerrors.HardwareTimeout.
func New(port SerialPorter, timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Bus{
		port:    port,
		reader:  bufio.NewReader(port),
		timeout: timeout,
	}
}

// Open dials path with opener and wraps the result in a Bus.
func Open(opener Opener, path string, mode Mode, timeout time.Duration) (*Bus, error) {
	port, err := opener(path, mode)
	if err != nil {
		return nil, err
	}
	return New(port, timeout), nil
}

// SendCommand writes command (newline-terminated) and blocks for a single
// response line. The microcontroller protocol is strictly request/response:
// one command, one reply, never interleaved, so the commandMu held for the
// whole round trip is sufficient to serialize callers.
func (b *Bus) SendCommand(command string) (string, error) {
	b.commandMu.Lock()
	defer b.commandMu.Unlock()

	if tp, ok := b.port.(TimeoutSerialPorter); ok {
		_ = tp.SetReadTimeout(b.timeout)
	}

	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	trimmed := strings.TrimSpace(command)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		if _, err := b.port.Write([]byte(command)); err != nil {
			ch <- result{err: fmt.Errorf("mcubus: write %q: %w", trimmed, err)}
			return
		}
		line, err := b.reader.ReadString('\n')
		if err != nil {
			err = fmt.Errorf("mcubus: read response to %q: %w", trimmed, err)
		}
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		return r.line, nil
	case <-time.After(b.timeout):
		return "", &acqerrors.HardwareTimeout{Operation: trimmed, Budget: b.timeout.String()}
	}
}

// Close closes the underlying port.
func (b *Bus) Close() error {
	return b.port.Close()
}
