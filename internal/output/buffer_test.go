package output

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSince_Empty(t *testing.T) {
	b := New(0)

	chunks, cursor := b.ReadSince(0)
	assert.Empty(t, chunks)
	assert.Equal(t, uint64(0), cursor)
}

func TestReadSince_ReturnsOnlyNewChunks(t *testing.T) {
	b := New(0)
	b.Append(Stdout, []byte("one "))
	b.Append(Stderr, []byte("two "))

	chunks, cursor := b.ReadSince(0)
	require.Len(t, chunks, 2)
	assert.Equal(t, "one two ", Join(chunks))
	assert.Equal(t, uint64(2), cursor)
	assert.Equal(t, Stdout, chunks[0].Stream)
	assert.Equal(t, Stderr, chunks[1].Stream)

	chunks, next := b.ReadSince(cursor)
	assert.Empty(t, chunks)
	assert.Equal(t, cursor, next, "cursor should not move without new output")

	b.Append(Stdout, []byte("three"))
	chunks, next = b.ReadSince(cursor)
	assert.Equal(t, "three", Join(chunks))
	assert.Equal(t, uint64(3), next)
}

func TestAppend_CopiesData(t *testing.T) {
	b := New(0)
	data := []byte("abc")
	b.Append(Stdout, data)
	data[0] = 'x'

	assert.Equal(t, "abc", Join(b.ReadAll()))
}

func TestAppend_IgnoresEmpty(t *testing.T) {
	b := New(0)
	b.Append(Stdout, nil)
	b.Append(Stdout, []byte{})

	assert.Equal(t, uint64(0), b.Seq())
}

func TestReadNext_IndependentReaders(t *testing.T) {
	b := New(0)
	b.Append(Stdout, []byte("a"))

	assert.Equal(t, "a", b.ReadNext("first").String())

	b.Append(Stdout, []byte("b"))

	assert.Equal(t, "b", b.ReadNext("first").String())
	assert.Equal(t, "ab", b.ReadNext("second").String())
	assert.Equal(t, "", b.ReadNext("first").String())
	assert.Equal(t, "", b.ReadNext("second").String())
	assert.Equal(t, uint64(2), b.Cursor("first"))
}

func TestReadNext_ConcatenationEqualsContent(t *testing.T) {
	b := New(0)
	var want strings.Builder
	var got strings.Builder

	for i := range 200 {
		line := fmt.Sprintf("line-%03d\n", i)
		want.WriteString(line)
		b.Append(Stdout, []byte(line))
		if i%7 == 0 {
			got.WriteString(b.ReadNext(DefaultReader).String())
		}
	}
	got.WriteString(b.ReadNext(DefaultReader).String())

	assert.Equal(t, want.String(), got.String())
}

func TestReadNext_ConcurrentCallsNeverDuplicate(t *testing.T) {
	b := New(0)
	const writes = 500

	var mu sync.Mutex
	seen := make(map[uint64]int)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range writes {
			b.Append(Stdout, []byte{byte('a' + i%26)})
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range writes {
				r := b.ReadNext("shared")
				mu.Lock()
				for _, c := range r.Chunks {
					seen[c.Seq]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	r := b.ReadNext("shared")
	for _, c := range r.Chunks {
		seen[c.Seq]++
	}

	require.Len(t, seen, writes)
	for seq, n := range seen {
		assert.Equal(t, 1, n, "chunk %d delivered %d times", seq, n)
	}
}

func TestReset(t *testing.T) {
	b := New(0)
	b.Append(Stdout, []byte("hello"))
	b.ReadNext(DefaultReader)

	b.Reset(DefaultReader)

	assert.Equal(t, "hello", b.ReadNext(DefaultReader).String())
}

func TestCapacity_EvictsOldest(t *testing.T) {
	b := New(10)
	b.Append(Stdout, []byte("aaaa"))
	b.Append(Stdout, []byte("bbbb"))
	b.Append(Stdout, []byte("cccc"))

	assert.Equal(t, "bbbbcccc", Join(b.ReadAll()))
	assert.Equal(t, int64(8), b.Len())
	assert.Equal(t, int64(4), b.Dropped())
	assert.Equal(t, uint64(3), b.Seq())
}

func TestCapacity_KeepsNewestChunk(t *testing.T) {
	b := New(4)
	b.Append(Stdout, []byte("0123456789"))

	assert.Equal(t, "0123456789", Join(b.ReadAll()))
}

func TestCapacity_ReaderLearnsDroppedBytes(t *testing.T) {
	b := New(8)
	b.Append(Stdout, []byte("aaaa"))
	assert.Equal(t, "aaaa", b.ReadNext(DefaultReader).String())

	b.Append(Stdout, []byte("bbbb"))
	b.Append(Stdout, []byte("cccc"))
	b.Append(Stdout, []byte("dddd"))

	r := b.ReadNext(DefaultReader)
	assert.Equal(t, "ccccdddd", r.String())
	assert.Equal(t, int64(4), r.Dropped)
	assert.Equal(t, uint64(4), r.Cursor)

	b.Append(Stdout, []byte("e"))
	r = b.ReadNext(DefaultReader)
	assert.Equal(t, "e", r.String())
	assert.Zero(t, r.Dropped)
}

func TestWriter(t *testing.T) {
	b := New(0)
	w := b.Writer(Stderr)

	n, err := fmt.Fprint(w, "oops")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	chunks := b.ReadAll()
	require.Len(t, chunks, 1)
	assert.Equal(t, Stderr, chunks[0].Stream)
}
