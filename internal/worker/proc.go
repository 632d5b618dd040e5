package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/seantiz/forge/internal/proto"
)

// exitTimeout is the time allowed for a terminated subprocess to exit after
// its stdin closes, before it is killed.
const exitTimeout = 3 * time.Second

// Proc is a worker backed by a subprocess. Envelopes travel as
// length-prefixed JSON frames over the child's stdin and stdout; stderr is
// inherited so worker diagnostics land in the parent's logs.
type Proc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	msgs    chan proto.Envelope
	errs    chan error

	termOnce sync.Once
}

var _ Worker = (*Proc)(nil)

// StartProc launches bin with args and returns its worker handle once the
// process has started. The context bounds process startup only, not its
// lifetime.
func StartProc(ctx context.Context, bin string, args ...string) (*Proc, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	cmd := exec.Command(bin, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	p := &Proc{
		cmd:   cmd,
		stdin: stdin,
		msgs:  make(chan proto.Envelope, inboxSize),
		errs:  make(chan error, 1),
	}
	go p.readLoop(stdout)
	return p, nil
}

// readLoop pumps frames from the child's stdout into the message channel.
// A decode failure or unexpected pipe closure surfaces on the error channel;
// a clean EOF just closes the channels.
func (p *Proc) readLoop(stdout io.Reader) {
	defer close(p.msgs)
	defer close(p.errs)

	r := bufio.NewReader(stdout)
	for {
		var env proto.Envelope
		if err := proto.ReadFrame(r, &env); err != nil {
			if !errors.Is(err, io.EOF) {
				p.errs <- fmt.Errorf("worker transport: %w", err)
			}
			return
		}
		p.msgs <- env
	}
}

// Send writes env as one frame to the child's stdin.
func (p *Proc) Send(env proto.Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := proto.WriteFrame(p.stdin, env); err != nil {
		return fmt.Errorf("send to worker process: %w", err)
	}
	return nil
}

// Messages returns the channel of child→engine envelopes.
func (p *Proc) Messages() <-chan proto.Envelope { return p.msgs }

// Errors returns the transport error channel.
func (p *Proc) Errors() <-chan error { return p.errs }

// Terminate closes stdin so a well-behaved agent exits on its own, then
// kills the process if it is still alive after exitTimeout. Idempotent.
func (p *Proc) Terminate() {
	p.termOnce.Do(func() {
		p.writeMu.Lock()
		p.stdin.Close()
		p.writeMu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			p.cmd.Wait()
		}()

		timer := time.NewTimer(exitTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			p.cmd.Process.Kill()
			<-done
		}
	})
}
