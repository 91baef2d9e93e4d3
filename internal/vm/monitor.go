package vm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"golang.org/x/term"
)

const monitorTimeout = 2 * time.Second

// MonitorConn is the subset of a QMP monitor vml uses.
type MonitorConn interface {
	Connect() error
	Disconnect() error
	Run(command []byte) ([]byte, error)
}

// DialMonitor opens a QMP monitor on a unix socket.
func DialMonitor(socket string) (MonitorConn, error) {
	mon, err := qmp.NewSocketMonitor("unix", socket, monitorTimeout)
	if err != nil {
		return nil, err
	}
	return mon, nil
}

func (v *VM) dial() (MonitorConn, error) {
	dial := DialMonitor
	if v.env.DialMonitor != nil {
		dial = v.env.DialMonitor
	}
	mon, err := dial(v.env.Runs.MonitorSocket(v.Name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMonitor, v.Name, err)
	}
	if err := mon.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMonitor, v.Name, err)
	}
	return mon, nil
}

// execute runs a single QMP command and returns its raw reply.
func (v *VM) execute(command string, args any) ([]byte, error) {
	mon, err := v.dial()
	if err != nil {
		return nil, err
	}
	defer mon.Disconnect()

	return run(mon, command, args)
}

func run(mon MonitorConn, command string, args any) ([]byte, error) {
	raw, err := json.Marshal(qmp.Command{Execute: command, Args: args})
	if err != nil {
		return nil, err
	}
	reply, err := mon.Run(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMonitor, command, err)
	}
	return reply, nil
}

// humanCommand runs an HMP command through QMP and returns its text output.
func humanCommand(mon MonitorConn, line string) (string, error) {
	reply, err := run(mon, "human-monitor-command", map[string]string{"command-line": line})
	if err != nil {
		return "", err
	}
	var resp struct {
		Return string `json:"return"`
	}
	if err := json.Unmarshal(reply, &resp); err != nil {
		return "", fmt.Errorf("%w: unexpected reply: %w", ErrMonitor, err)
	}
	return resp.Return, nil
}

// MonitorCommand runs one human monitor command, like "info status".
func (v *VM) MonitorCommand(line string) (string, error) {
	mon, err := v.dial()
	if err != nil {
		return "", err
	}
	defer mon.Disconnect()

	return humanCommand(mon, line)
}

// Monitor reads human monitor commands from in until EOF or "quit"
// and writes their output to out. A terminal on stdin gets line editing.
func (v *VM) Monitor(in io.Reader, out io.Writer) error {
	mon, err := v.dial()
	if err != nil {
		return err
	}
	defer mon.Disconnect()

	prompt := "(" + v.Name + ") "
	next := lineReader(in, out, prompt)

	for {
		line, err := next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		reply, err := humanCommand(mon, line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		fmt.Fprint(out, strings.ReplaceAll(reply, "\r\n", "\n"))
	}
}

func lineReader(in io.Reader, out io.Writer, prompt string) func() (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func() (string, error) {
			state, err := term.MakeRaw(int(f.Fd()))
			if err != nil {
				return "", err
			}
			defer term.Restore(int(f.Fd()), state)

			t := term.NewTerminal(struct {
				io.Reader
				io.Writer
			}{f, out}, prompt)
			line, err := t.ReadLine()
			fmt.Fprint(out, "\r")
			return line, err
		}
	}

	scanner := bufio.NewScanner(in)
	return func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	}
}
