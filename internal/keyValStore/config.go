package keyValStore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/disk"
)

func (sc *StoreConfig) check() error {
	if sc.Path == "" {
		return errors.New("no path provided in configuration")
	}

	parent := filepath.Dir(sc.Path)
	info, err := os.Stat(parent)
	if os.IsNotExist(err) {
		return fmt.Errorf("parent directory %s does not exist", parent)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", parent)
	}

	if sc.Mode == ReadOnly {
		if _, err := os.Stat(sc.Path); os.IsNotExist(err) {
			return fmt.Errorf("store %s does not exist", sc.Path)
		}
		return nil
	}

	return sc.checkFreeSpace()
}

// checkFreeSpace refuses writes once the filesystem holding the store
// falls below the configured floor.
func (sc *StoreConfig) checkFreeSpace() error {
	probe := sc.Path
	if _, err := os.Stat(probe); os.IsNotExist(err) {
		probe = filepath.Dir(probe)
	}

	usage, err := disk.Usage(probe)
	if err != nil {
		return fmt.Errorf("unable to stat filesystem for %s: %w", probe, err)
	}

	freeMB := usage.Free / (1024 * 1024)
	if freeMB < sc.MinimumFreeMB {
		return fmt.Errorf("not enough space available on disk: %d MB free, %d MB required",
			freeMB, sc.MinimumFreeMB)
	}

	return nil
}
