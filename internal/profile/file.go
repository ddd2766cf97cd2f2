package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// LatestFile is the pointer file maintained next to the versioned profiles.
const LatestFile = "latest.json"

var ErrNoProfile = errors.New("no calibration profile")

var profileFileRe = regexp.MustCompile(`^profile-(\d+)\.json$`)

type latestPointer struct {
	Profile string `json:"profile"`
}

// FileName returns the versioned file name for version.
func FileName(version int) string {
	return fmt.Sprintf("profile-%d.json", version)
}

// Save writes p as profile-<version>.json in dir and repoints latest.json at it.
// Both files are written via a temp file and rename so a watcher never reads a partial file.
func Save(dir string, p *Profile) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}

	name := FileName(p.Version)
	if err := Write(filepath.Join(dir, name), p); err != nil {
		return "", err
	}

	ptr, err := json.Marshal(latestPointer{Profile: name})
	if err != nil {
		return "", fmt.Errorf("marshal pointer: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, LatestFile), ptr); err != nil {
		return "", err
	}
	return name, nil
}

// Write validates p and writes it to path without touching any pointer file.
func Write(path string, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Load reads and validates a single profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if p.BiasDB == nil {
		p.BiasDB = map[string]float64{}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// LoadLatest resolves latest.json in dir and loads the profile it names.
// It returns ErrNoProfile when the pointer does not exist.
func LoadLatest(dir string) (*Profile, error) {
	data, err := os.ReadFile(filepath.Join(dir, LatestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoProfile
		}
		return nil, fmt.Errorf("read latest pointer: %w", err)
	}
	var ptr latestPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return nil, fmt.Errorf("decode latest pointer: %w", err)
	}
	if ptr.Profile == "" || filepath.Base(ptr.Profile) != ptr.Profile {
		return nil, fmt.Errorf("latest pointer names invalid file %q", ptr.Profile)
	}
	return Load(filepath.Join(dir, ptr.Profile))
}

// NextVersion returns one more than the highest profile version found in dir.
func NextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 1, nil
		}
		return 0, fmt.Errorf("read profile dir: %w", err)
	}
	highest := 0
	for _, e := range entries {
		m := profileFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > highest {
			highest = v
		}
	}
	return highest + 1, nil
}

// IsProfileFile reports whether name is the pointer or a versioned profile.
func IsProfileFile(name string) bool {
	base := filepath.Base(name)
	return base == LatestFile || profileFileRe.MatchString(base)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
