// Package output holds the append-only output log of a managed session.
//
// Chunks are numbered from 1 in arrival order. Readers keep a cursor holding
// the last sequence number they received; cursor 0 means nothing has been
// read yet. Output from stdout and stderr is merged into one sequence, each
// chunk keeping a tag of the stream it came from.
package output

import (
	"io"
	"strings"
	"sync"
)

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
	PTY    Stream = "pty"
)

// DefaultReader is the cursor used when a caller does not name one.
const DefaultReader = ""

type Chunk struct {
	Seq    uint64
	Stream Stream
	Data   []byte
	// Offset is the number of bytes appended before this chunk.
	Offset int64
}

// Read is the result of advancing a named cursor.
type Read struct {
	Chunks []Chunk
	Cursor uint64
	// Dropped counts bytes evicted by the capacity limit between the
	// reader's previous cursor and the first returned chunk.
	Dropped int64
}

func (r Read) String() string {
	return Join(r.Chunks)
}

// Buffer is safe for concurrent use. Writers never wait on readers beyond
// the short critical section of a single append.
type Buffer struct {
	mu      sync.Mutex
	chunks  []Chunk
	size    int64
	maxSize int64
	seq     uint64
	total   int64
	dropped int64
	cursors map[string]position
}

type position struct {
	seq    uint64
	offset int64
}

// New returns a buffer holding at most maxSize bytes. A maxSize of 0 means
// unbounded.
func New(maxSize int64) *Buffer {
	return &Buffer{
		maxSize: maxSize,
		cursors: make(map[string]position),
	}
}

func (b *Buffer) Append(stream Stream, data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.chunks = append(b.chunks, Chunk{
		Seq:    b.seq,
		Stream: stream,
		Data:   append([]byte(nil), data...),
		Offset: b.total,
	})
	b.size += int64(len(data))
	b.total += int64(len(data))
	b.trimLocked()
}

// trimLocked evicts the oldest chunks until the buffer fits maxSize. The
// newest chunk is always retained.
func (b *Buffer) trimLocked() {
	if b.maxSize <= 0 {
		return
	}
	n := 0
	for b.size > b.maxSize && n < len(b.chunks)-1 {
		b.size -= int64(len(b.chunks[n].Data))
		b.dropped += int64(len(b.chunks[n].Data))
		b.chunks[n].Data = nil
		n++
	}
	b.chunks = b.chunks[n:]
}

// ReadSince returns every retained chunk with a sequence number greater than
// cursor, in order, and the cursor to pass next time. With nothing new it
// returns no chunks and the same cursor.
func (b *Buffer) ReadSince(cursor uint64) ([]Chunk, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chunks := b.sinceLocked(cursor)
	if len(chunks) == 0 {
		return nil, cursor
	}
	return chunks, chunks[len(chunks)-1].Seq
}

// ReadNext returns what reader has not seen yet and advances its cursor in
// the same critical section, so concurrent calls for one reader never
// receive a chunk twice.
func (b *Buffer) ReadNext(reader string) Read {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.cursors[reader]
	chunks := b.sinceLocked(pos.seq)
	r := Read{Chunks: chunks, Cursor: pos.seq}
	if len(chunks) == 0 {
		return r
	}
	last := chunks[len(chunks)-1]
	r.Dropped = chunks[0].Offset - pos.offset
	r.Cursor = last.Seq
	b.cursors[reader] = position{seq: last.Seq, offset: last.Offset + int64(len(last.Data))}
	return r
}

// ReadAll returns every retained chunk without moving any cursor.
func (b *Buffer) ReadAll() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinceLocked(0)
}

func (b *Buffer) sinceLocked(cursor uint64) []Chunk {
	if len(b.chunks) == 0 || cursor >= b.seq {
		return nil
	}
	first := b.chunks[0].Seq
	start := 0
	if cursor >= first {
		start = int(cursor - first + 1)
	}
	return append([]Chunk(nil), b.chunks[start:]...)
}

// Cursor returns the position of a named reader.
func (b *Buffer) Cursor(reader string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursors[reader].seq
}

// Reset rewinds a named reader to the start of the retained output.
func (b *Buffer) Reset(reader string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cursors, reader)
}

// Seq returns the sequence number of the newest chunk.
func (b *Buffer) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Len returns the number of retained bytes.
func (b *Buffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the total number of bytes evicted so far.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Writer adapts the buffer to io.Writer for one stream.
func (b *Buffer) Writer(stream Stream) io.Writer {
	return &streamWriter{buf: b, stream: stream}
}

type streamWriter struct {
	buf    *Buffer
	stream Stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.buf.Append(w.stream, p)
	return len(p), nil
}

// Join concatenates chunk data into a string.
func Join(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.Write(c.Data)
	}
	return sb.String()
}
