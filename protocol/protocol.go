// Package protocol implements the newline-delimited text protocol spoken
// between the dispatcher and its workers.
//
// Requests (worker to server):
//
//	GET_TASK
//	RESULT <id> <text>
//
// Responses (server to worker):
//
//	TASK <id> <description>
//	NO_TASK
//	OK RESULT_RECEIVED
//	ERROR <reason>
package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxLineLength bounds a protocol line in bytes, newline included.
const MaxLineLength = 1024

// Command names a worker request.
type Command string

const (
	CmdGetTask Command = "GET_TASK"
	CmdResult  Command = "RESULT"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidResult   = errors.New("invalid RESULT format")
	ErrInvalidResponse = errors.New("invalid response")
	ErrLineTooLong     = errors.New("line too long")
)

// Request is a decoded worker request.
type Request struct {
	Command Command
	TaskID  int
	Result  string
}

// Response is one server line without its terminating newline.
type Response string

const (
	NoTask              Response = "NO_TASK"
	ResultReceived      Response = "OK RESULT_RECEIVED"
	ErrorAlreadyBusy    Response = "ERROR ALREADY_BUSY"
	ErrorNotBusy        Response = "ERROR INVALID_TASK_ID_OR_NOT_BUSY"
	ErrorInvalidResult  Response = "ERROR INVALID_RESULT_FORMAT"
	ErrorUnknownCommand Response = "ERROR UNKNOWN_COMMAND"
)

// Assignment builds the TASK response for a granted task.
func Assignment(id int, description string) Response {
	return Response("TASK " + strconv.Itoa(id) + " " + description)
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }

// nextField splits s at the first run of blanks after skipping leading ones.
func nextField(s string) (field, rest string) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	s = s[i:]
	j := 0
	for j < len(s) && !isSpace(s[j]) {
		j++
	}
	return s[:j], s[j:]
}

func skipSpace(s string) string {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return s[i:]
}

// ParseRequest decodes one request line. Only the first two fields of a
// RESULT line are interpreted; everything after the id is the opaque result.
func ParseRequest(line string) (Request, error) {
	line = trimEOL(line)
	if line == string(CmdGetTask) {
		return Request{Command: CmdGetTask}, nil
	}

	cmd, rest := nextField(line)
	if cmd != string(CmdResult) || (len(line) > 0 && isSpace(line[0])) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}

	idField, rest := nextField(rest)
	id, err := strconv.Atoi(idField)
	if err != nil {
		return Request{}, fmt.Errorf("%w: bad task id %q", ErrInvalidResult, idField)
	}
	text := skipSpace(rest)
	if text == "" {
		return Request{}, fmt.Errorf("%w: missing result text", ErrInvalidResult)
	}
	return Request{Command: CmdResult, TaskID: id, Result: text}, nil
}

// EncodeGetTask returns the GET_TASK request line.
func EncodeGetTask() string { return string(CmdGetTask) }

// EncodeResult returns a RESULT request line.
func EncodeResult(id int, text string) string {
	return string(CmdResult) + " " + strconv.Itoa(id) + " " + text
}

// ReplyKind classifies a server response.
type ReplyKind int

const (
	ReplyTask ReplyKind = iota + 1
	ReplyNoTask
	ReplyOK
	ReplyError
)

// Reply is a decoded server response.
type Reply struct {
	Kind        ReplyKind
	TaskID      int
	Description string
	// Detail carries the text after OK or ERROR.
	Detail string
}

// ParseResponse decodes one server line.
func ParseResponse(line string) (Reply, error) {
	line = trimEOL(line)
	switch {
	case line == string(NoTask):
		return Reply{Kind: ReplyNoTask}, nil
	case strings.HasPrefix(line, "TASK "):
		idField, rest := nextField(line[len("TASK "):])
		id, err := strconv.Atoi(idField)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad task id in %q", ErrInvalidResponse, line)
		}
		// The description is everything after the single separating space.
		desc := strings.TrimPrefix(rest, " ")
		return Reply{Kind: ReplyTask, TaskID: id, Description: desc}, nil
	case strings.HasPrefix(line, "OK "):
		return Reply{Kind: ReplyOK, Detail: line[len("OK "):]}, nil
	case strings.HasPrefix(line, "ERROR "):
		return Reply{Kind: ReplyError, Detail: line[len("ERROR "):]}, nil
	}
	return Reply{}, fmt.Errorf("%w: %q", ErrInvalidResponse, line)
}

// WriteLine writes line followed by a newline in a single Write call.
func WriteLine(w io.Writer, line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
