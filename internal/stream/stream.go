// Package stream decodes the line-framed event stream returned by the
// persona and coordinator backends.
//
// Each frame is one line of the form "<code>:<json>\n":
//
//	0:"Hello"                                        text delta (JSON string)
//	9:{"toolCallId":"c1","toolName":"search_memories"} tool call
//	a:{"toolCallId":"c1"}                            tool result
//
// Unknown codes and malformed payloads are skipped; decoding never fails.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Frame type codes.
const (
	CodeText       = "0"
	CodeToolCall   = "9"
	CodeToolResult = "a"
)

// Event is one decoded frame. It is one of TextDelta, ToolCall or ToolResult.
type Event interface {
	isEvent()
}

// TextDelta carries a fragment of generated text.
type TextDelta struct {
	Text string
}

// ToolCall reports that the model invoked a tool.
type ToolCall struct {
	ID   string `json:"toolCallId"`
	Name string `json:"toolName"`
}

// ToolResult reports that a tool call finished.
type ToolResult struct {
	ID string `json:"toolCallId"`
}

func (TextDelta) isEvent()  {}
func (ToolCall) isEvent()   {}
func (ToolResult) isEvent() {}

// Decoder turns arbitrary byte chunks into events. A frame split across
// chunks is held until its newline arrives. The zero value is ready to use.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk and returns the events of every complete line.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		if ev, ok := DecodeLine(d.buf[:i]); ok {
			events = append(events, ev)
		}
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Flush decodes a trailing line that never received its newline.
func (d *Decoder) Flush() []Event {
	rest := d.buf
	d.buf = nil
	if ev, ok := DecodeLine(rest); ok {
		return []Event{ev}
	}
	return nil
}

// Buffered returns the number of bytes waiting for a newline.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// DecodeLine decodes a single frame without its newline.
func DecodeLine(line []byte) (Event, bool) {
	line = bytes.TrimRight(line, "\r")
	code, payload, found := bytes.Cut(line, []byte{':'})
	if !found {
		return nil, false
	}

	switch string(code) {
	case CodeText:
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return nil, false
		}
		return TextDelta{Text: text}, true
	case CodeToolCall:
		var call ToolCall
		if err := json.Unmarshal(payload, &call); err != nil {
			return nil, false
		}
		return call, true
	case CodeToolResult:
		var result ToolResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, false
		}
		return result, true
	default:
		return nil, false
	}
}

// Collect reads r to EOF, calling fn for each decoded event in order.
// It returns the first read error other than io.EOF.
func Collect(r io.Reader, fn func(Event)) error {
	var d Decoder
	br := bufio.NewReaderSize(r, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := br.Read(chunk)
		if n > 0 {
			for _, ev := range d.Feed(chunk[:n]) {
				fn(ev)
			}
		}
		if err == io.EOF {
			for _, ev := range d.Flush() {
				fn(ev)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// EncodeText renders a text delta frame.
func EncodeText(text string) string {
	b, _ := json.Marshal(text)
	return CodeText + ":" + string(b) + "\n"
}

// EncodeToolCall renders a tool call frame.
func EncodeToolCall(id, name string) string {
	b, _ := json.Marshal(ToolCall{ID: id, Name: name})
	return CodeToolCall + ":" + string(b) + "\n"
}

// EncodeToolResult renders a tool result frame.
func EncodeToolResult(id string) string {
	return fmt.Sprintf("%s:{\"toolCallId\":%q}\n", CodeToolResult, id)
}
