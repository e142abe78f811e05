package impl

import (
	"os"
	"testing"

	"authgate/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}
