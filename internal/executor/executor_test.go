package executor

import (
	"bufio"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLines(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("frame=1 time=00:00:01.00\rframe=2 time=00:00:02.00\nlast"))
	scanner.Split(ScanLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	assert.Equal(t, []string{"frame=1 time=00:00:01.00", "frame=2 time=00:00:02.00", "last"}, lines)
}

func TestCmd(t *testing.T) {
	cmd := NewCmd("ffmpeg", "-hide_banner")
	cmd.Add("-i", "in.mp4")
	cmd.Env("FOO=bar")

	assert.Equal(t, []string{"-hide_banner", "-i", "in.mp4"}, cmd.Command())
	assert.Equal(t, "ffmpeg -hide_banner -i in.mp4", cmd.String())
}

func TestRunStreamsCombinedOutput(t *testing.T) {
	e := NewExecutor(nil)

	var lines []string
	out, err := e.Run(context.Background(), NewCmd("sh", "-c", `printf 'one\rtwo\n'; printf 'three\n' 1>&2`), func(line string) {
		lines = append(lines, line)
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two", "three"}, lines)
	assert.Contains(t, out, "three")
}

func TestRunReportsExitFailure(t *testing.T) {
	e := NewExecutor(nil)

	out, err := e.Run(context.Background(), NewCmd("sh", "-c", "echo broken; exit 3"), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Equal(t, "broken\n", out)
}

func TestRunHonoursContext(t *testing.T) {
	e := NewExecutor(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx, NewCmd("sleep", "5"), nil)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestOutput(t *testing.T) {
	e := NewExecutor(nil)

	out, err := e.Output(context.Background(), NewCmd("sh", "-c", "echo '{}'"))
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(out))

	_, err = e.Output(context.Background(), NewCmd("sh", "-c", "echo nope 1>&2; exit 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestTailBufferLimit(t *testing.T) {
	tail := &tailBuffer{limit: 8}
	tail.WriteLine("12345")
	tail.WriteLine("abcde")

	assert.Equal(t, "5\nabcde\n", tail.String())
}
