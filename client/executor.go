package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Executor performs one task and returns its result text.
type Executor interface {
	Execute(ctx context.Context, id int, description string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, id int, description string) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, id int, description string) (string, error) {
	return f(ctx, id, description)
}

var (
	errQuotedFormat = errors.New("missing or misplaced end quote")
	errAddFormat    = errors.New("want ADD <int> <int>")
)

// DefaultExecutor understands a handful of demonstration operations:
//
//	REVERSE '<text>'
//	UPPER '<text>'
//	TITLE '<text>'
//	ADD <a> <b>
//
// Anything else completes with "Completed unknown task: <description>".
// Malformed operations complete with an "ERROR: ..." result rather than
// failing the task.
type DefaultExecutor struct {
	// Delay simulates work before each task.
	Delay time.Duration
}

// Execute implements Executor.
func (e DefaultExecutor) Execute(ctx context.Context, _ int, description string) (string, error) {
	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	op, arg, _ := strings.Cut(description, " ")
	switch op {
	case "REVERSE":
		s, err := quoted(arg)
		if err != nil {
			return "ERROR: Invalid REVERSE format: " + err.Error(), nil
		}
		return reverse(s), nil
	case "UPPER":
		s, err := quoted(arg)
		if err != nil {
			return "ERROR: Invalid UPPER format: " + err.Error(), nil
		}
		return cases.Upper(language.Und).String(s), nil
	case "TITLE":
		s, err := quoted(arg)
		if err != nil {
			return "ERROR: Invalid TITLE format: " + err.Error(), nil
		}
		return cases.Title(language.English).String(s), nil
	case "ADD":
		sum, err := add(arg)
		if err != nil {
			return "ERROR: Invalid ADD format: " + err.Error(), nil
		}
		return sum, nil
	}
	return "Completed unknown task: " + description, nil
}

// quoted returns the text between a leading quote and a quote that ends arg.
func quoted(arg string) (string, error) {
	if len(arg) < 2 || arg[0] != '\'' || arg[len(arg)-1] != '\'' {
		return "", errQuotedFormat
	}
	return arg[1 : len(arg)-1], nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func add(arg string) (string, error) {
	var a, b int
	if n, err := fmt.Sscanf(arg, "%d %d", &a, &b); err != nil || n != 2 {
		return "", errAddFormat
	}
	return fmt.Sprint(a + b), nil
}
