package testutils

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
// BLECENTRAL_TEST_LOG overrides the level (e.g. "warn" to quiet a run).
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if lvl, err := logrus.ParseLevel(os.Getenv("BLECENTRAL_TEST_LOG")); err == nil {
		logger.SetLevel(lvl)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}
