package memory_test

import (
	"testing"

	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/memory"
	"github.com/dukex/procflow/pkg/testutil"
)

func TestPersistence(t *testing.T) {
	testutil.RunPersistenceSuite(t, func(_ *testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}
