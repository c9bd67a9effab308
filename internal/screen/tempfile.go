package screen

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

func newTempPNGPath() (string, error) {
	return filepath.Join(os.TempDir(), "lavis-capture-"+uuid.NewString()+".png"), nil
}

func readTemp(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func removeTemp(path string) {
	_ = os.Remove(path)
}
