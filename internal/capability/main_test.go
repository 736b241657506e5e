package capability

import (
	"os"
	"testing"

	"propflow.app/assist/common/id"
)

func TestMain(m *testing.M) {
	if err := id.Init(1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
