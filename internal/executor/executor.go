package executor

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// tailSize bounds the output kept for diagnostics.
const tailSize = 64 * 1024

// Runner drives child processes.
type Runner interface {
	// Run executes the command, calling onLine for every line of its combined
	// output, and returns the tail of that output.
	Run(ctx context.Context, command *Cmd, onLine func(line string)) (output string, err error)
	// Output executes the command and returns its standard output.
	Output(ctx context.Context, command *Cmd) ([]byte, error)
}

type Executor struct {
	logger io.Writer
}

func NewExecutor(logger io.Writer) *Executor {
	if logger == nil {
		logger = io.Discard
	}

	e := &Executor{logger: logger}
	return e
}

func (e *Executor) Run(ctx context.Context, command *Cmd, onLine func(line string)) (string, error) {
	log.Debugf("> %s", command)

	start := time.Now()

	pr, pw := io.Pipe()

	cmd := exec.CommandContext(ctx, command.Binary, command.args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.Env = append(os.Environ(), command.envs...)

	if err := cmd.Start(); err != nil {
		return "", errors.Wrapf(err, "unable to start %s", command.Binary)
	}

	go func() {
		_ = pw.CloseWithError(cmd.Wait())
	}()

	tail := &tailBuffer{limit: tailSize}
	scanner := bufio.NewScanner(pr)
	scanner.Split(ScanLines)
	scanner.Buffer(make([]byte, 4096), bufio.MaxScanTokenSize*16)

	for scanner.Scan() {
		line := scanner.Text()
		tail.WriteLine(line)
		_, _ = io.WriteString(e.logger, line+"\n")

		if onLine != nil {
			onLine(line)
		}
	}

	// drain so Wait can return if the scanner stopped early
	_, _ = io.Copy(io.Discard, pr)

	err := scanner.Err()

	log.WithField("elapsed", time.Since(start).String()).Debugf("< %s", command.Binary)

	if err != nil {
		var exitErr *exec.ExitError

		if errors.As(err, &exitErr) || ctx.Err() != nil {
			return tail.String(), err
		}

		return tail.String(), errors.Wrapf(err, "reading %s output", command.Binary)
	}

	return tail.String(), nil
}

func (e *Executor) Output(ctx context.Context, command *Cmd) ([]byte, error) {
	log.Debugf("> %s", command)

	var outb, errb bytes.Buffer

	cmd := exec.CommandContext(ctx, command.Binary, command.args...)
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	cmd.Env = append(os.Environ(), command.envs...)

	if err := cmd.Run(); err != nil {
		return outb.Bytes(), errors.Wrapf(err, "%s: %s", command.Binary, strings.TrimSpace(errb.String()))
	}

	return outb.Bytes(), nil
}

// ScanLines splits on '\n' as well as the bare '\r' ffmpeg uses to redraw
// its stats line.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

type Cmd struct {
	Binary string
	args   []string
	envs   []string
}

func NewCmd(binary string, args ...string) *Cmd {
	return &Cmd{Binary: binary, args: args}
}

func (c *Cmd) Add(args ...string) {
	c.args = append(c.args, args...)
}

func (c *Cmd) Env(env string) {
	c.envs = append(c.envs, env)
}

func (c *Cmd) Command() []string {
	return c.args
}

func (c *Cmd) String() string {
	return c.Binary + " " + strings.Join(c.args, " ")
}

type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')

	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return string(t.buf)
}
