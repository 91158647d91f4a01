package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Request
		wantErr error
	}{
		{name: "get task", line: "GET_TASK", want: Request{Command: CmdGetTask}},
		{name: "get task crlf", line: "GET_TASK\r\n", want: Request{Command: CmdGetTask}},
		{name: "get task trailing text", line: "GET_TASK now", wantErr: ErrUnknownCommand},
		{name: "get task lowercase", line: "get_task", wantErr: ErrUnknownCommand},
		{name: "result", line: "RESULT 3 hello", want: Request{Command: CmdResult, TaskID: 3, Result: "hello"}},
		{
			name: "result keeps remainder opaque",
			line: "RESULT 12   RESULT 4 with  spaces\tand tabs ",
			want: Request{Command: CmdResult, TaskID: 12, Result: "RESULT 4 with  spaces\tand tabs "},
		},
		{name: "result tab separated", line: "RESULT\t5\tok", want: Request{Command: CmdResult, TaskID: 5, Result: "ok"}},
		{name: "result negative id", line: "RESULT -1 x", want: Request{Command: CmdResult, TaskID: -1, Result: "x"}},
		{name: "result missing text", line: "RESULT 3", wantErr: ErrInvalidResult},
		{name: "result blank text", line: "RESULT 3   ", wantErr: ErrInvalidResult},
		{name: "result bad id", line: "RESULT three done", wantErr: ErrInvalidResult},
		{name: "result bare", line: "RESULT", wantErr: ErrInvalidResult},
		{name: "result prefix only", line: "RESULTS 1 x", wantErr: ErrUnknownCommand},
		{name: "leading space", line: " RESULT 1 x", wantErr: ErrUnknownCommand},
		{name: "empty", line: "", wantErr: ErrUnknownCommand},
		{name: "garbage", line: "HELLO", wantErr: ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.line)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		line string
		want Reply
	}{
		{"TASK 1 REVERSE 'hello world'", Reply{Kind: ReplyTask, TaskID: 1, Description: "REVERSE 'hello world'"}},
		{"TASK 2 ", Reply{Kind: ReplyTask, TaskID: 2}},
		{"NO_TASK\n", Reply{Kind: ReplyNoTask}},
		{"OK RESULT_RECEIVED", Reply{Kind: ReplyOK, Detail: "RESULT_RECEIVED"}},
		{"ERROR ALREADY_BUSY", Reply{Kind: ReplyError, Detail: "ALREADY_BUSY"}},
	}
	for _, tt := range tests {
		got, err := ParseResponse(tt.line)
		if err != nil {
			t.Errorf("ParseResponse(%q): %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseResponse(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}

	for _, bad := range []string{"TASK x y", "WHAT", ""} {
		if _, err := ParseResponse(bad); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("ParseResponse(%q): err = %v, want ErrInvalidResponse", bad, err)
		}
	}
}

func TestAssignmentRoundTrip(t *testing.T) {
	line := string(Assignment(17, "ADD 10 20"))
	if line != "TASK 17 ADD 10 20" {
		t.Fatalf("Assignment = %q", line)
	}
	r, err := ParseResponse(line)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if r.TaskID != 17 || r.Description != "ADD 10 20" {
		t.Errorf("reply = %+v", r)
	}

	req, err := ParseRequest(EncodeResult(17, "30"))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.TaskID != 17 || req.Result != "30" {
		t.Errorf("request = %+v", req)
	}
}

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, string(NoTask)); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if buf.String() != "NO_TASK\n" {
		t.Errorf("wrote %q", buf.String())
	}
}
