package astropix

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandInputs resolves glob patterns, "**" included, keeping the first
// occurrence of every file. A directory stands for every .log, .bin and
// .apx file below it.
func ExpandInputs(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var inputs []string
	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil && info.IsDir() {
			pattern = filepath.Join(pattern, "**", "*.{log,log.xz,bin,bin.xz,apx,apx.xz}")
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad input pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			logger.Info(fmt.Sprintf("No file matches %s", pattern), "inputs")
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				inputs = append(inputs, match)
			}
		}
	}
	return inputs, nil
}
