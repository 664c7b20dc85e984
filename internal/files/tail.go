package files

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
)

// maxTailChunk bounds how much of a file a single Poll reads.
const maxTailChunk = 1 << 20

// TailUpdate is what changed in a file since the previous Poll.
type TailUpdate struct {
	Lines     []string `json:"lines"`
	Offset    int64    `json:"offset"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Tailer follows a single file by byte offset. It is not safe for concurrent
// use; each tail session owns one.
type Tailer struct {
	path    string
	offset  int64
	partial []byte
}

// NewTailer starts following path. With fromStart the first Poll returns the
// whole file; otherwise only lines written after this call are reported.
func NewTailer(path string, fromStart bool) (*Tailer, error) {
	t := &Tailer{path: path}
	if !fromStart {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		t.offset = info.Size()
	}
	return t, nil
}

// Offset returns the byte position consumed so far, including any held-back
// partial line.
func (t *Tailer) Offset() int64 { return t.offset }

// Poll reads complete lines appended since the last call. A trailing line
// without a newline is held until it is finished. If the file shrank, reading
// restarts at offset zero and Truncated is set.
func (t *Tailer) Poll() (TailUpdate, error) {
	var upd TailUpdate
	f, err := os.Open(t.path)
	if err != nil {
		return upd, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return upd, err
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
		upd.Truncated = true
	}
	if info.Size() == t.offset {
		upd.Offset = t.offset
		return upd, nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		// seek failed; start over
		t.offset = 0
		t.partial = nil
		upd.Truncated = true
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return upd, err
		}
	}

	reader := bufio.NewReader(io.LimitReader(f, maxTailChunk))
	for {
		line, err := reader.ReadBytes('\n')
		t.offset += int64(len(line))
		if len(line) > 0 {
			if line[len(line)-1] == '\n' {
				full := append(t.partial, line...)
				t.partial = nil
				upd.Lines = append(upd.Lines, string(bytes.TrimRight(full, "\r\n")))
			} else {
				t.partial = append(t.partial, line...)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			upd.Offset = t.offset
			return upd, err
		}
	}
	upd.Offset = t.offset
	return upd, nil
}
