package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

const maxTraceLine = 16 * 1024 * 1024

// FileRecorder records events to a file as JSON lines with optional compression
type FileRecorder struct {
	mu              sync.Mutex
	file            *os.File
	writer          io.Writer
	bufWriter       *bufio.Writer
	path            string
	compressionType CompressionType
	eventCount      int
}

// FileRecorderOptions contains options for creating a file recorder
type FileRecorderOptions struct {
	CompressionType CompressionType
}

// DefaultFileRecorderOptions returns default options for file recorder
func DefaultFileRecorderOptions() FileRecorderOptions {
	return FileRecorderOptions{
		CompressionType: DefaultCompression,
	}
}

// NewFileRecorder creates a new file recorder with default options
func NewFileRecorder(path string) (*FileRecorder, error) {
	return NewFileRecorderWithOptions(path, DefaultFileRecorderOptions())
}

// NewFileRecorderWithOptions creates a new file recorder with the given options
func NewFileRecorderWithOptions(path string, options FileRecorderOptions) (*FileRecorder, error) {
	fr := &FileRecorder{path: path, compressionType: options.CompressionType}
	if err := fr.open(); err != nil {
		return nil, err
	}
	return fr, nil
}

func (fr *FileRecorder) open() error {
	f, err := os.OpenFile(fr.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trace file %s: %w", fr.path, err)
	}
	bufWriter := bufio.NewWriter(f)
	writer, err := NewCompressedWriter(bufWriter, fr.compressionType)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to create compressed writer: %w", err)
	}
	fr.file, fr.bufWriter, fr.writer = f, bufWriter, writer
	return nil
}

// Path returns the trace file path
func (fr *FileRecorder) Path() string {
	return fr.path
}

// RecordEvent appends an event and flushes it to the file
func (fr *FileRecorder) RecordEvent(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.file == nil {
		return os.ErrClosed
	}

	if _, err := fr.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	// One frame per event keeps the file decodable while the session is still running
	if err := EndFrame(fr.writer, fr.bufWriter); err != nil {
		return err
	}
	if err := fr.bufWriter.Flush(); err != nil {
		return err
	}
	fr.eventCount++
	return nil
}

// EventCount returns the number of events written since the file was opened or cleared
func (fr *FileRecorder) EventCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.eventCount
}

// GetEvents reads back every event written so far
func (fr *FileRecorder) GetEvents() []Event {
	fr.mu.Lock()
	path := fr.path
	fr.mu.Unlock()

	events, err := ReadTrace(path)
	if err != nil {
		return nil
	}
	return events
}

// Clear truncates the file and resets the recorder
func (fr *FileRecorder) Clear() {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	// Ignore errors in Clear() as per interface
	_ = fr.closeLocked()
	_ = os.Truncate(fr.path, 0)
	if err := fr.open(); err == nil {
		fr.eventCount = 0
	}
}

// Close flushes and closes the file
func (fr *FileRecorder) Close() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.closeLocked()
}

func (fr *FileRecorder) closeLocked() error {
	if fr.file == nil {
		return nil
	}
	defer func() { fr.file = nil }()

	if err := CloseCompressedWriter(fr.writer, fr.compressionType); err != nil {
		_ = fr.file.Close()
		return err
	}
	if err := fr.bufWriter.Flush(); err != nil {
		_ = fr.file.Close()
		return err
	}
	return fr.file.Close()
}

// ReadTrace reads a trace file written by FileRecorder, compressed or not.
// Lines that do not decode as events are skipped.
func ReadTrace(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file %s: %w", path, err)
	}
	defer f.Close()

	peeked, compression, err := DetectCompression(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file %s: %w", path, err)
	}
	reader, err := NewCompressedReader(peeked, compression)
	if err != nil {
		return nil, fmt.Errorf("failed to open decompressor: %w", err)
	}
	defer reader.Close()

	var events []Event
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTraceLine)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read trace file %s: %w", path, err)
	}
	return events, nil
}
