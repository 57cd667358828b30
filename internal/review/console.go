package review

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/term"

	"github.com/sells-group/extract-trainer/internal/model"
	"github.com/sells-group/extract-trainer/internal/scorer"
)

// ConsoleReviewer prompts a human on a line-oriented terminal.
type ConsoleReviewer struct {
	in        *bufio.Reader
	out       io.Writer
	threshold float64
}

// NewConsoleReviewer reads answers from in and writes prompts to out.
func NewConsoleReviewer(in io.Reader, out io.Writer, threshold float64) *ConsoleReviewer {
	return &ConsoleReviewer{in: bufio.NewReader(in), out: out, threshold: threshold}
}

// NewTerminalReviewer prompts on stdin/stdout, which must be a terminal.
func NewTerminalReviewer(threshold float64) (*ConsoleReviewer, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, eris.New("review: stdin is not a terminal (use --auto for unattended runs)")
	}
	return NewConsoleReviewer(os.Stdin, os.Stdout, threshold), nil
}

// Review implements Reviewer.
func (c *ConsoleReviewer) Review(ctx context.Context, ex model.Example) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	c.show(ex)
	for {
		answer, err := c.ask("[a]ccept  [s]kip  [e]dit  [q]uit > ")
		if err != nil {
			return Decision{}, err
		}
		switch strings.ToLower(answer) {
		case "a", "accept":
			return Accept(), nil
		case "s", "skip", "":
			return Skip(), nil
		case "e", "edit":
			r, err := c.edit(ex.Record)
			if err != nil {
				return Decision{}, err
			}
			return Edit(r), nil
		case "q", "quit":
			return Decision{}, ErrQuit
		default:
			fmt.Fprintf(c.out, "unknown answer %q\n", answer)
		}
	}
}

func (c *ConsoleReviewer) show(ex model.Example) {
	fmt.Fprintf(c.out, "\n%s  %s (page %d, record %d)\n", ex.ID, ex.Source.DocumentPath, ex.Source.PageIndex, ex.Source.RecordIndex)
	flag := ""
	if ex.NeedsReview(c.threshold) {
		flag = "  REVIEW REQUIRED"
	}
	fmt.Fprintf(c.out, "confidence %.2f%s\n", ex.OverallConfidence(), flag)
	for _, f := range model.AllFields() {
		v, ok := ex.Record.Value(f)
		if !ok {
			v = "-"
		}
		conf, scored := ex.Confidence[f]
		if scored {
			fmt.Fprintf(c.out, "  %-12s %-40s %.2f\n", f, v, conf)
		} else {
			fmt.Fprintf(c.out, "  %-12s %s\n", f, v)
		}
	}
	for _, e := range ex.Errors {
		fmt.Fprintf(c.out, "  error: %s\n", e.Error())
	}
	for _, w := range ex.Warnings {
		fmt.Fprintf(c.out, "  warning: %s\n", w)
	}
}

// edit walks every field. A blank answer keeps the value and "-" clears it.
func (c *ConsoleReviewer) edit(r model.Record) (model.Record, error) {
	for _, f := range model.AllFields() {
		for {
			cur, _ := r.Value(f)
			answer, err := c.ask(fmt.Sprintf("  %s [%s]: ", f, cur))
			if err != nil {
				return model.Record{}, err
			}
			if answer == "" {
				break
			}
			if answer == "-" {
				answer = ""
			}
			value, err := normalizeInput(f, answer)
			if err == nil {
				err = r.Set(f, value)
			}
			if err != nil {
				fmt.Fprintf(c.out, "  invalid %s: %v\n", f, err)
				continue
			}
			break
		}
	}

	for _, e := range scorer.ScoreRecord(r).Errors {
		fmt.Fprintf(c.out, "  note: %s\n", e.Error())
	}
	return r, nil
}

func normalizeInput(f model.Field, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if f == model.FieldDate {
		return scorer.NormalizeDate(s)
	}
	return scorer.NormalizeText(s), nil
}

func (c *ConsoleReviewer) ask(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil {
		if eris.Is(err, io.EOF) && line == "" {
			return "", ErrQuit
		}
		if !eris.Is(err, io.EOF) {
			return "", eris.Wrap(err, "review: read answer")
		}
	}
	return strings.TrimSpace(line), nil
}
