package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const wavHeaderSize = 44

// WAVWriter streams PCM16 mono samples into a WAV container. The header is
// written up front with placeholder sizes and patched on Finalize.
type WAVWriter struct {
	file          *os.File
	sampleRate    int
	channels      int
	bytesWritten  uint32
	headerWritten bool
	finalized     bool
	mu            sync.Mutex
}

// NewWAVWriter creates a WAV writer over an open file and writes the header
func NewWAVWriter(file *os.File, sampleRate, channels int) (*WAVWriter, error) {
	if file == nil {
		return nil, fmt.Errorf("nil file provided for WAV writer")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	w := &WAVWriter{
		file:       file,
		sampleRate: sampleRate,
		channels:   channels,
	}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteSamples appends PCM16 samples to the data chunk
func (w *WAVWriter) WriteSamples(samples []int16) error {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	_, err := w.Write(raw)
	return err
}

// Write appends raw little-endian PCM bytes to the data chunk
func (w *WAVWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return 0, fmt.Errorf("write after WAV finalization")
	}

	n, err := w.file.Write(p)
	w.bytesWritten += uint32(n)
	return n, err
}

// Finalize patches the header sizes. Idempotent.
func (w *WAVWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return nil
	}

	if _, err := w.file.Seek(4, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, w.bytesWritten+36); err != nil {
		return err
	}
	if _, err := w.file.Seek(40, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, w.bytesWritten); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	w.finalized = true
	return nil
}

// BytesWritten returns the number of data bytes written so far
func (w *WAVWriter) BytesWritten() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesWritten
}

func (w *WAVWriter) writeHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	header := buildWAVHeader(w.sampleRate, w.channels, 0)
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(header); err != nil {
		return err
	}
	w.headerWritten = true
	return nil
}

// buildWAVHeader constructs a 44-byte PCM16 WAV header
func buildWAVHeader(sampleRate, channels int, dataBytes uint32) []byte {
	header := make([]byte, wavHeaderSize)

	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], dataBytes+36)
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(header[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], dataBytes)

	return header
}

// EncodeWAV renders PCM16 mono samples as a complete in-memory WAV file.
// Used for handing single windows to CLI model backends.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataBytes := uint32(len(samples) * 2)
	out := make([]byte, wavHeaderSize+len(samples)*2)
	copy(out, buildWAVHeader(sampleRate, 1, dataBytes))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[wavHeaderSize+i*2:], uint16(s))
	}
	return out
}

// WAVInfo describes a PCM WAV file's format and length
type WAVInfo struct {
	SampleRate int
	Channels   int
	DataBytes  int64
}

// Duration returns the audio play time described by the info
func (i WAVInfo) Duration() time.Duration {
	if i.SampleRate <= 0 || i.Channels <= 0 {
		return 0
	}
	frames := i.DataBytes / int64(i.Channels*2)
	return time.Duration(frames) * time.Second / time.Duration(i.SampleRate)
}

// ReadWAVInfo parses the header of a PCM16 WAV file
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return WAVInfo{}, err
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("missing RIFF/WAVE header in %s", path)
	}

	var info WAVInfo
	fmtFound, dataFound := false, false

	for !fmtFound || !dataFound {
		chunk := make([]byte, 8)
		if _, err := io.ReadFull(f, chunk); err != nil {
			return WAVInfo{}, err
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return WAVInfo{}, err
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return WAVInfo{}, fmt.Errorf("unsupported audio format %d", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return WAVInfo{}, fmt.Errorf("unsupported bits per sample %d", bits)
			}
			fmtFound = true
		case "data":
			info.DataBytes = int64(size)
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return WAVInfo{}, err
			}
			dataFound = true
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return WAVInfo{}, err
			}
		}
	}
	return info, nil
}

// ReadWAVSamples loads all PCM16 samples from a mono WAV file
func ReadWAVSamples(path string) ([]int16, WAVInfo, error) {
	info, err := ReadWAVInfo(path)
	if err != nil {
		return nil, WAVInfo{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, WAVInfo{}, err
	}

	// Locate the data chunk payload.
	offset := findDataOffset(raw)
	if offset < 0 {
		return nil, WAVInfo{}, fmt.Errorf("data chunk not found in %s", path)
	}

	end := offset + int(info.DataBytes)
	if end > len(raw) {
		end = len(raw)
	}
	payload := raw[offset:end]

	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return samples, info, nil
}

// findDataOffset scans chunk headers for the data payload offset
func findDataOffset(raw []byte) int {
	if len(raw) < wavHeaderSize {
		return -1
	}
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		if id == "data" {
			return pos + 8
		}
		pos += 8 + size
	}
	return -1
}
