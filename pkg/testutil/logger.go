package testutil

import (
	"strings"
	"testing"

	"github.com/nimburion/rabbitqueue/pkg/observability/logger"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Logger returns a debug-level text logger that writes through t.Log, so
// output only shows for failing or verbose tests.
func Logger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.DebugLevel,
		Format: logger.TextFormat,
		Output: testWriter{t: t},
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}
