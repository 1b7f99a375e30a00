package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestMutedCategorySuppressesBelowMinLevel(t *testing.T) {
	core, recorded := newRecordingCore()
	l := New(zap.New(core), Rule{Category: CategoryException, MinLevel: zapcore.WarnLevel})

	l.Debug(CategoryException, "hash mismatch, dropped")
	l.Warn(CategoryException, "still shows")

	require.Len(t, *recorded, 1)
	require.Equal(t, "still shows", (*recorded)[0])
}

func TestUnmutedCategoryPassesEverything(t *testing.T) {
	core, recorded := newRecordingCore()
	l := New(zap.New(core))

	l.Debug(CategoryAdmission, "a")
	l.Info(CategoryAdmission, "b")

	require.Len(t, *recorded, 2)
}

// recordingCore is a minimal zapcore.Core that records messages, avoiding a
// dependency on zaptest/observer for this small check.
func newRecordingCore() (zapcore.Core, *[]string) {
	recorded := &[]string{}
	return &recordingCore{recorded: recorded}, recorded
}

type recordingCore struct {
	recorded *[]string
}

func (c *recordingCore) Enabled(zapcore.Level) bool { return true }
func (c *recordingCore) With([]zap.Field) zapcore.Core { return c }
func (c *recordingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(e, c)
}
func (c *recordingCore) Write(e zapcore.Entry, _ []zap.Field) error {
	*c.recorded = append(*c.recorded, e.Message)
	return nil
}
func (c *recordingCore) Sync() error { return nil }
