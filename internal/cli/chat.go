// Package cli is the terminal front end.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"funchatgo/internal/models"
	"funchatgo/internal/worker"
)

// Turner is the part of the worker manager the REPL needs.
type Turner interface {
	Stream(worker.TurnRequest) (*worker.TurnResult, error)
	ResetUser(ctx context.Context, userID string) error
	History(userID string) []models.Message
}

var sanitize = regexp.MustCompile(`\x1B\[[0-9;]*[a-zA-Z]|[\x00-\x08\x0B-\x1F\x7F]`)

// SanitizeOutput strips control characters and ANSI escapes from s and
// writes it NFC-normalized to w.
func SanitizeOutput(w io.Writer, s string) error {
	cleaned := sanitize.ReplaceAllString(s, "")
	writer := norm.NFC.Writer(w)
	var b strings.Builder
	for _, r := range cleaned {
		if r == '\n' || unicode.IsPrint(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	if _, err := io.WriteString(writer, b.String()); err != nil {
		return err
	}
	return writer.Close()
}

const helpText = `Commands:
  /history  show the conversation so far
  /reset    clear the conversation
  /help     show this help
  /exit     quit
`

// REPL reads user lines from in and prints replies to out.
type REPL struct {
	turner Turner
	userID string
	in     io.Reader
	out    io.Writer
}

func NewREPL(turner Turner, userID string, in io.Reader, out io.Writer) *REPL {
	return &REPL{turner: turner, userID: userID, in: in, out: out}
}

// Run loops until EOF, /exit, or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		if err := r.turn(ctx, line); err != nil {
			fmt.Fprintf(r.out, "\nerror: %v\n", err)
		}
	}
}

func (r *REPL) turn(ctx context.Context, input string) error {
	_, err := r.turner.Stream(worker.TurnRequest{
		Context: ctx,
		UserID:  r.userID,
		Input:   input,
		ChunkFn: func(d models.Delta) error {
			return SanitizeOutput(r.out, d.Content)
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) command(ctx context.Context, line string) (bool, error) {
	switch strings.Fields(line)[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprint(r.out, helpText)
	case "/reset":
		if err := r.turner.ResetUser(ctx, r.userID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "conversation cleared")
	case "/history":
		for _, msg := range r.turner.History(r.userID) {
			label := string(msg.Role)
			if msg.Name != "" {
				label += ":" + msg.Name
			}
			fmt.Fprintf(r.out, "[%s] ", label)
			if err := SanitizeOutput(r.out, msg.Content); err != nil {
				return false, err
			}
			fmt.Fprintln(r.out)
		}
	default:
		return false, fmt.Errorf("unknown command %s, try /help", line)
	}
	return false, nil
}
