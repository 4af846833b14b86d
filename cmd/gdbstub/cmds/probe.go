package cmds

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cosiner/argv"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/gdbstub/pkg/config"
	"github.com/go-delve/gdbstub/pkg/gdbstub/client"
)

const (
	colorReply = "\x1b[34m"
	colorError = "\x1b[31m"
	colorReset = "\x1b[0m"
)

// prober runs probe commands against a stub.
type prober struct {
	conn  *client.Conn
	out   io.Writer
	conf  *config.Config
	color bool
}

func newProber(conn *client.Conn, out io.Writer, conf *config.Config) *prober {
	p := &prober{conn: conn, out: out, conf: conf}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		p.out = colorable.NewColorable(f)
		p.color = true
	}
	return p
}

func (p *prober) printf(color, format string, args ...interface{}) {
	if p.color {
		fmt.Fprint(p.out, color)
		defer fmt.Fprint(p.out, colorReset)
	}
	fmt.Fprintf(p.out, format, args...)
}

// runScript runs every line read from r.
func (p *prober) runScript(r io.Reader) error {
	scan := bufio.NewScanner(r)
	lineno := 0
	for scan.Scan() {
		lineno++
		if err := p.run(scan.Text()); err != nil {
			return fmt.Errorf("line %d: %w", lineno, err)
		}
	}
	return scan.Err()
}

// run runs the commands of one line. Error replies of the stub are
// printed, any other error is returned.
func (p *prober) run(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return nil
	}
	cmds, err := argv.Argv(line,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return err
	}
	for _, words := range cmds {
		words = p.conf.ExpandAlias(words)
		if len(words) == 0 {
			continue
		}
		err := p.exec(words[0], words[1:])
		var gdberr *client.ProtocolError
		if errors.As(err, &gdberr) {
			p.printf(colorError, "error: %v\n", err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *prober) exec(cmd string, args []string) error {
	switch cmd {
	case "send":
		resp, err := p.conn.Exec([]byte(strings.Join(args, " ")), "probe")
		if err != nil {
			return err
		}
		p.printf(colorReply, "%s\n", strconv.QuoteToASCII(string(resp)))
		return nil
	case "stop":
		sr, err := p.conn.HaltReason()
		if err != nil {
			return err
		}
		p.printStopReply(sr)
		return nil
	case "continue":
		sr, err := p.conn.Continue()
		if err != nil {
			return err
		}
		p.printStopReply(sr)
		return nil
	case "step":
		tid, err := p.uintArg(args, 0, 16)
		if err != nil {
			return err
		}
		sr, err := p.conn.Step(tid)
		if err != nil {
			return err
		}
		p.printStopReply(sr)
		return nil
	case "interrupt":
		if len(args) != 1 {
			return errors.New("interrupt needs a duration")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return err
		}
		if err := p.conn.Resume(); err != nil {
			return err
		}
		time.Sleep(d)
		if err := p.conn.Interrupt(); err != nil {
			return err
		}
		sr, err := p.conn.WaitStop()
		if err != nil {
			return err
		}
		p.printStopReply(sr)
		return nil
	case "threads":
		tids, err := p.conn.QueryThreads()
		if err != nil {
			return err
		}
		strs := make([]string, len(tids))
		for i := range tids {
			strs[i] = fmt.Sprintf("%#x", tids[i])
		}
		p.printf(colorReply, "threads: %s\n", strings.Join(strs, " "))
		return nil
	case "threadsinfo":
		return p.threadsInfo()
	case "read":
		addr, err := p.uintArg(args, 0, 0)
		if err != nil {
			return err
		}
		size, err := p.uintArg(args, 1, 0)
		if err != nil {
			return err
		}
		data, err := p.conn.ReadMemoryBinary(addr, int(size))
		if err != nil {
			return err
		}
		p.printf(colorReply, "%s", hex.Dump(data))
		return nil
	case "break", "clear":
		addr, err := p.uintArg(args, 0, 0)
		if err != nil {
			return err
		}
		if cmd == "break" {
			err = p.conn.SetBreakpoint(addr)
		} else {
			err = p.conn.ClearBreakpoint(addr)
		}
		if err != nil {
			return err
		}
		p.printf(colorReply, "OK\n")
		return nil
	case "kill":
		sr, err := p.conn.Kill()
		if err != nil {
			return err
		}
		p.printStopReply(sr)
		return nil
	case "detach":
		if err := p.conn.Detach(); err != nil {
			return err
		}
		p.printf(colorReply, "OK\n")
		return nil
	}
	return fmt.Errorf("unknown probe command %q", cmd)
}

// uintArg parses args[i], base zero accepts a 0x prefix.
func (p *prober) uintArg(args []string, i, base int) (uint64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	return strconv.ParseUint(args[i], base, 64)
}

func (p *prober) printStopReply(sr *client.StopReply) {
	switch sr.Kind {
	case 'W':
		p.printf(colorReply, "exited with status %d\n", sr.ExitStatus)
		return
	case 'X':
		p.printf(colorReply, "killed by signal %#x\n", sr.Signal)
		return
	}
	p.printf(colorReply, "stopped: signal %#x thread %#x %q", sr.Signal, sr.ThreadID, sr.Name)
	if sr.Reason != "" {
		p.printf(colorReply, " reason %s", sr.Reason)
	}
	p.printf(colorReply, "\n")
	for i := range sr.Threads {
		if i >= len(sr.ThreadPCs) {
			break
		}
		p.printf(colorReply, "  thread %#x pc %#x\n", sr.Threads[i], sr.ThreadPCs[i])
	}
}

func (p *prober) threadsInfo() error {
	threads, err := p.conn.ThreadsInfo()
	if err != nil {
		return err
	}
	for _, th := range threads {
		p.printf(colorReply, "thread %#x %q", th.TID, th.Name)
		if th.Reason != "" {
			p.printf(colorReply, " reason %s signal %#x", th.Reason, th.Signal)
		}
		p.printf(colorReply, "\n")
		for _, regnum := range th.RegisterNumbers() {
			p.printf(colorReply, "  r%d %x\n", regnum, th.Registers[regnum])
		}
		for _, chunk := range th.Memory {
			p.printf(colorReply, "  memory %#x %d bytes\n", chunk.Address, len(chunk.Bytes))
		}
	}
	return nil
}
