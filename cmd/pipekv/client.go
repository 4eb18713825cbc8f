package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/pipekv/internal/client"
	"github.com/jpalmerr/pipekv/internal/jobs"
	"github.com/jpalmerr/pipekv/internal/protocol"
	"github.com/jpalmerr/pipekv/internal/session"
)

const clientUsage = `Commands:
  SUBSCRIBE [key]
  UNSUBSCRIBE [key]
  DELAY <delay_ms>
  DISCONNECT
`

// clientCmd connects an interactive client session.
var clientCmd = &cobra.Command{
	Use:   "client <id> <register_path>",
	Short: "Connect a client session",
	Long: `Connect to a running pipekv server and drive a session from stdin.

The client creates its FIFOs as <dir>/req<id>, <dir>/resp<id> and
<dir>/notif<id>, connects through the registration FIFO and then reads
one command per line:

` + clientUsage + `
Notifications for subscribed keys are printed as they arrive.

Example:
  pipekv client 1 /tmp/pipekv < commands.txt`,
	Args: cobra.ExactArgs(2),
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().String("dir", "/tmp", "directory for the client FIFOs")
	clientCmd.Flags().Duration("timeout", 5*time.Second, "timeout for connecting and for each request")
}

// kvSession is the part of a client session the command loop drives.
type kvSession interface {
	Subscribe(ctx context.Context, key string) (protocol.Status, error)
	Unsubscribe(ctx context.Context, key string) (protocol.Status, error)
	Disconnect(ctx context.Context) (protocol.Status, error)
}

// printer writes client output, colorized when attached to a terminal.
type printer struct {
	out    io.Writer
	errOut io.Writer
	ok     *color.Color
	fail   *color.Color
	note   *color.Color
}

func newPrinter(out, errOut io.Writer, colored bool) *printer {
	p := &printer{
		out:    out,
		errOut: errOut,
		ok:     color.New(color.FgGreen),
		fail:   color.New(color.FgRed),
		note:   color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.ok, p.fail, p.note} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) result(op protocol.OpCode, status protocol.Status) {
	c := p.ok
	if status == protocol.StatusFailed {
		c = p.fail
	}
	fmt.Fprintln(p.out, c.Sprintf("Server returned %s for operation: %s", status, op))
}

func (p *printer) notification(n protocol.Notification) {
	fmt.Fprintln(p.out, p.note.Sprint(n.String()))
}

func (p *printer) invalid() {
	fmt.Fprintln(p.errOut, p.fail.Sprint("Invalid command. See HELP for usage"))
}

func runClient(cmd *cobra.Command, args []string) error {
	id, registerPath := args[0], args[1]
	dir, _ := cmd.Flags().GetString("dir")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	paths := session.Paths{
		Request:      filepath.Join(dir, "req"+id),
		Response:     filepath.Join(dir, "resp"+id),
		Notification: filepath.Join(dir, "notif"+id),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	c, err := client.Connect(connectCtx, registerPath, paths)
	cancel()
	if err != nil {
		if errors.Is(err, client.ErrRejected) {
			return errors.New("connection failed, try again later")
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer c.Close()

	p := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), isTerminal(os.Stdout))
	fmt.Fprintln(p.out, p.ok.Sprint("Connected to server"))

	notified := make(chan struct{})
	go func() {
		defer close(notified)
		for n := range c.Notifications() {
			p.notification(n)
		}
	}()

	err = runCommands(ctx, c, cmd.InOrStdin(), p, timeout)
	c.Close()
	<-notified
	return err
}

// runCommands executes one command per input line until DISCONNECT, end of
// input or ctx is done.
func runCommands(ctx context.Context, s kvSession, in io.Reader, p *printer, timeout time.Duration) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		done, err := runCommand(ctx, s, scanner.Text(), p, timeout)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

func runCommand(ctx context.Context, s kvSession, line string, p *printer, timeout time.Duration) (done bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false, nil
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch strings.ToUpper(word) {
	case "DISCONNECT":
		status, err := s.Disconnect(reqCtx)
		if err != nil {
			return true, fmt.Errorf("server unresponsive: %w", err)
		}
		p.result(protocol.OpDisconnect, status)
		fmt.Fprintln(p.out, "Disconnected from server")
		return true, nil

	case "SUBSCRIBE", "UNSUBSCRIBE":
		keys, err := jobs.ParseKeys(rest)
		if err != nil || len(keys) != 1 || len(keys[0]) > protocol.MaxKeySize {
			p.invalid()
			return false, nil
		}
		op, call := protocol.OpSubscribe, s.Subscribe
		if strings.EqualFold(word, "UNSUBSCRIBE") {
			op, call = protocol.OpUnsubscribe, s.Unsubscribe
		}
		status, err := call(reqCtx, keys[0])
		if err != nil {
			return true, fmt.Errorf("server unresponsive: %w", err)
		}
		p.result(op, status)
		return false, nil

	case "DELAY":
		ms, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			p.invalid()
			return false, nil
		}
		if ms > 0 {
			fmt.Fprintln(p.out, "Waiting...")
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
			}
		}
		return false, nil

	case "HELP":
		fmt.Fprint(p.out, clientUsage)
		return false, nil

	default:
		p.invalid()
		return false, nil
	}
}
