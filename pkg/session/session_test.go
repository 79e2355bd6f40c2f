package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/diarize"
	pkgerrors "meetrec-server/pkg/errors"
	"meetrec-server/pkg/storage"
	"meetrec-server/pkg/stt"
	"meetrec-server/pkg/summarize"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestComponents(t *testing.T) Components {
	t.Helper()
	logger := testLogger()

	mock := stt.NewMockTranscriber(logger)
	registry := stt.NewRegistry(logger, mock.Name(), nil)
	registry.Register(mock)

	dir := t.TempDir()
	artifacts := storage.NewArtifactStore(logger, dir)
	schedule, err := storage.OpenScheduleStore(logger, filepath.Join(dir, "schedule.json"))
	require.NoError(t, err)

	store := diarize.NewProfileStore(logger, diarize.DefaultProfileStoreConfig())
	identifier := diarize.NewIdentifier(logger, diarize.DefaultIdentifierConfig(),
		diarize.NewSpectralEmbedder(32), store)

	return Components{
		Registry:   registry,
		Identifier: identifier,
		Artifacts:  artifacts,
		Schedule:   schedule,
		Summarizer: summarize.NewExtractiveSummarizer(logger, 2),
	}
}

func newTestConfig() Config {
	config := DefaultConfig()
	config.Title = "Test Meeting"
	config.Mixer.SampleRate = 16000
	config.Mixer.QueueDepth = 16
	config.Engine.Workers = 1
	config.Engine.SettleDelay = 200 * time.Millisecond
	config.Engine.DrainTimeout = 2 * time.Second
	config.QualityInterval = 100 * time.Millisecond
	return config
}

func tone(name string, tag capture.SourceTag, freq float64) *capture.ToneSource {
	return capture.NewToneSource(name, tag, 16000, 100*time.Millisecond, freq, 0.3)
}

func TestSessionRecordsEndToEnd(t *testing.T) {
	comps := newTestComponents(t)
	mic := tone("test-mic", capture.SourceMic, 220)
	system := tone("test-system", capture.SourceSystem, 440)

	s := New(testLogger(), newTestConfig(), mic, system, comps)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRecording, s.State())

	time.Sleep(700 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, StateCompleted, s.State())

	record := s.Record()
	require.NotNil(t, record)
	assert.NotEmpty(t, record.Transcript, "recorded speech must produce a transcript")
	assert.True(t, record.EndedAt.After(record.StartedAt))
	assert.Equal(t, "Test Meeting", record.Title)

	// The mixed audio landed in the artifact store with a retention entry.
	require.NotEmpty(t, record.ArtifactID)
	artifact, err := comps.Artifacts.Find(record.ArtifactID)
	require.NoError(t, err)
	assert.Greater(t, artifact.SizeBytes, int64(44), "artifact holds audio beyond the WAV header")

	entry, err := comps.Schedule.Get(record.ArtifactID)
	require.NoError(t, err)
	assert.True(t, entry.ExpiresAt.After(record.EndedAt))
}

func TestSessionMicOnly(t *testing.T) {
	comps := newTestComponents(t)
	mic := tone("test-mic", capture.SourceMic, 220)

	s := New(testLogger(), newTestConfig(), mic, nil, comps)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(400 * time.Millisecond)

	stats := s.MixerStats()
	assert.False(t, stats.SystemAvailable, "no system source means mic-only mixing")
	assert.True(t, stats.MicAlive)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NotNil(t, s.Record())
}

func TestSequentialSessionsDoNotShareTranscript(t *testing.T) {
	// Both sessions record through the same shared components.
	comps := newTestComponents(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := New(testLogger(), newTestConfig(), tone("m1", capture.SourceMic, 220), nil, comps)
	require.NoError(t, first.Start(context.Background()))
	time.Sleep(700 * time.Millisecond)
	require.NoError(t, first.Stop(ctx))
	firstRecord := first.Record()
	require.NotNil(t, firstRecord)
	require.NotEmpty(t, firstRecord.Transcript)

	second := New(testLogger(), newTestConfig(), tone("m2", capture.SourceMic, 220), nil, comps)
	require.NoError(t, second.Start(context.Background()))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, second.Stop(ctx))

	secondRecord := second.Record()
	require.NotNil(t, secondRecord)
	assert.NotEmpty(t, secondRecord.Transcript, "a later session still transcribes")
	assert.NotContains(t, secondRecord.Transcript, firstRecord.Transcript,
		"a session transcript must not inherit earlier sessions' segments")
}

func TestMicLossStopsAndFinalizesSession(t *testing.T) {
	comps := newTestComponents(t)
	mic := tone("test-mic", capture.SourceMic, 220)

	s := New(testLogger(), newTestConfig(), mic, nil, comps)
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(400 * time.Millisecond)

	// Kill the mic stream directly, as a yanked device would.
	require.NoError(t, mic.Stop())

	require.Eventually(t, func() bool {
		return s.State() == StateCompleted
	}, 10*time.Second, 50*time.Millisecond, "mic loss must hard-stop the session")

	record := s.Record()
	require.NotNil(t, record, "the captured portion is still finalized and handed off")
	assert.NotEmpty(t, record.Transcript)
	assert.NotEmpty(t, record.ArtifactID)
}

func TestSessionStartTwiceFails(t *testing.T) {
	comps := newTestComponents(t)
	mic := tone("test-mic", capture.SourceMic, 220)

	s := New(testLogger(), newTestConfig(), mic, nil, comps)
	require.NoError(t, s.Start(context.Background()))

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrFailedPrecondition)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSessionStopBeforeStartFails(t *testing.T) {
	comps := newTestComponents(t)
	s := New(testLogger(), newTestConfig(), tone("m", capture.SourceMic, 220), nil, comps)

	err := s.Stop(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrFailedPrecondition)
}

func TestSessionIsReadOnlyAfterStop(t *testing.T) {
	comps := newTestComponents(t)
	s := New(testLogger(), newTestConfig(), tone("m", capture.SourceMic, 220), nil, comps)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(300 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	// Stopping again and restarting are both rejected.
	assert.Error(t, s.Stop(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	first := s.Record()
	second := s.Record()
	assert.Equal(t, first, second)
}

func TestManagerSingleActiveSession(t *testing.T) {
	manager := NewManager(testLogger())

	first, err := manager.Start(context.Background(), newTestConfig(),
		tone("m1", capture.SourceMic, 220), nil, newTestComponents(t))
	require.NoError(t, err)

	_, err = manager.Start(context.Background(), newTestConfig(),
		tone("m2", capture.SourceMic, 220), nil, newTestComponents(t))
	assert.ErrorIs(t, err, pkgerrors.ErrSessionAlreadyExist)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Stop(ctx, first.ID()))
	assert.Nil(t, manager.Active())

	// A new session may start once the first has stopped.
	second, err := manager.Start(context.Background(), newTestConfig(),
		tone("m3", capture.SourceMic, 220), nil, newTestComponents(t))
	require.NoError(t, err)
	require.NoError(t, manager.Stop(ctx, second.ID()))

	assert.Equal(t, 2, manager.Count())
}

func TestManagerUnknownSession(t *testing.T) {
	manager := NewManager(testLogger())

	_, err := manager.Get("nope")
	assert.ErrorIs(t, err, pkgerrors.ErrSessionNotFound)
	assert.ErrorIs(t, manager.Stop(context.Background(), "nope"), pkgerrors.ErrSessionNotFound)
}

func TestManagerStopAll(t *testing.T) {
	manager := NewManager(testLogger())

	s, err := manager.Start(context.Background(), newTestConfig(),
		tone("m1", capture.SourceMic, 220), nil, newTestComponents(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.StopAll(ctx)

	assert.Equal(t, StateCompleted, s.State())
	assert.Nil(t, manager.Active())
}
