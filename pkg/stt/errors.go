package stt

import (
	"errors"
)

// Error definitions
var (
	ErrNoBackendAvailable  = errors.New("no transcription backend available")
	ErrBackendNotFound     = errors.New("requested transcription backend not found")
	ErrModelNotLoaded      = errors.New("transcription model not loaded")
	ErrInvalidAudioData    = errors.New("invalid audio data")
	ErrTranscriptionFailed = errors.New("transcription failed")
)
