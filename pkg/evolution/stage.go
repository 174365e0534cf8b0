// Package evolution records one episode per training stage and stitches the
// clips into a single evolution animation.
package evolution

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boristopalov/highway-evolution/pkg/media"
)

var (
	ErrNoMedia        = errors.New("no media file found")
	ErrAmbiguousMedia = errors.New("more than one media file found")
	// ErrHalfCheckpointMissing is returned when the half checkpoint was never
	// written, which happens when total_timesteps is below 2.
	ErrHalfCheckpointMissing = errors.New("half checkpoint missing")
)

type Stage int

const (
	Untrained Stage = iota
	Half
	Final
)

// Stages lists the stages in playback order
func Stages() []Stage {
	return []Stage{Untrained, Half, Final}
}

func (s Stage) String() string {
	switch s {
	case Untrained:
		return "untrained"
	case Half:
		return "half"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Dir is the folder name of the stage under the videos root
func (s Stage) Dir() string {
	return fmt.Sprintf("%d_%s", int(s)+1, s)
}

// Layout resolves stage folders under a videos root
type Layout struct {
	Root string
}

func (l Layout) StageDir(s Stage) string {
	return filepath.Join(l.Root, s.Dir())
}

// StageDirs returns the folder of every stage in playback order
func (l Layout) StageDirs() []string {
	dirs := make([]string, 0, 3)
	for _, s := range Stages() {
		dirs = append(dirs, l.StageDir(s))
	}
	return dirs
}

// SelectMedia returns the single finished clip in dir. Clips still being
// written are ignored.
func SelectMedia(dir string) (string, error) {
	found, err := listMedia(dir)
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w in %s", ErrNoMedia, dir)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w in %s: %s", ErrAmbiguousMedia, dir, strings.Join(found, ", "))
	}
}

func listMedia(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var found []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), media.Ext) {
			continue
		}
		found = append(found, filepath.Join(dir, e.Name()))
	}
	sort.Strings(found)
	return found, nil
}

// purgeMedia removes finished and partial clips left in dir by earlier runs
func purgeMedia(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list %s: %w", dir, err)
	}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(name), media.Ext) || strings.HasSuffix(name, media.Ext+media.PartialSuffix) {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
