package termio

import (
	"io"
	"os"
	"sync"
)

// writer queues output so a slow terminal never blocks a transfer.
type writer struct {
	file *os.File
	ch   chan []byte
	wg   sync.WaitGroup
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.wg.Add(1)
	w.ch <- buf
	return len(p), nil
}

func (w *writer) File() *os.File {
	return w.file
}

func (w *writer) flush() {
	w.wg.Wait()
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout)
		global.stderr = newWriter(os.Stderr)
	})
}

func newWriter(f *os.File) *writer {
	w := &writer{
		file: f,
		ch:   make(chan []byte, 1024),
	}
	go func() {
		for buf := range w.ch {
			_, _ = w.file.Write(buf)
			w.wg.Done()
		}
	}()
	return w
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

func StderrFile() *os.File {
	Init()
	return global.stderr.file
}

// Flush blocks until everything queued so far has been written. Call it
// before os.Exit.
func Flush() {
	Init()
	global.stdout.flush()
	global.stderr.flush()
}

// Exit flushes queued output and exits with code.
func Exit(code int) {
	Flush()
	os.Exit(code)
}
