package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DeviceFile is the on-disk hardware identification record written by the
// device-detection tool and read back on every startup. Its
// format is a tolerant `key=value` text file: blank lines and `#`-prefixed
// comments are ignored, trailing inline comments after a value are
// stripped, and values may optionally be wrapped in double quotes.
//
// Precedence across all device-derived settings is env > file > hard-coded
// default; the detection tool only ever rewrites the hardware-identifying
// keys (camera/arm paths), so operator-set keys below survive
// regeneration untouched.
type DeviceFile struct {
	ArmLeaderPort   string
	ArmFollowerPort string
	CameraTopPath   string
	CameraWristPath string

	// Extra carries any keys the file has that this struct doesn't know
	// about yet, so a round-trip write never silently drops operator data.
	Extra map[string]string
}

var deviceFileHardwareKeys = map[string]bool{
	"ARM_LEADER_PORT":   true,
	"ARM_FOLLOWER_PORT": true,
	"CAMERA_TOP_PATH":   true,
	"CAMERA_WRIST_PATH": true,
}

// LoadDeviceFile parses a device config file. A missing file returns a
// zero-value DeviceFile and no error — callers fall back to env/defaults.
func LoadDeviceFile(path string) (DeviceFile, error) {
	df := DeviceFile{Extra: map[string]string{}}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return df, nil
		}
		return df, fmt.Errorf("devicefile: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, val, ok := parseDeviceFileLine(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "ARM_LEADER_PORT":
			df.ArmLeaderPort = val
		case "ARM_FOLLOWER_PORT":
			df.ArmFollowerPort = val
		case "CAMERA_TOP_PATH":
			df.CameraTopPath = val
		case "CAMERA_WRIST_PATH":
			df.CameraWristPath = val
		default:
			df.Extra[key] = val
		}
	}
	if err := scanner.Err(); err != nil {
		return df, fmt.Errorf("devicefile: scan %s: %w", path, err)
	}
	return df, nil
}

// parseDeviceFileLine parses one `key=value` line, tolerating a leading
// `#` comment line, a trailing ` # comment` suffix on a value line, and an
// optionally double-quoted value. Returns ok=false for blank/comment lines.
func parseDeviceFileLine(line string) (key, val string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	eq := strings.IndexByte(trimmed, '=')
	if eq < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:eq])
	rest := trimmed[eq+1:]

	if idx := strings.IndexByte(rest, '#'); idx >= 0 && !isInsideQuotes(rest, idx) {
		rest = rest[:idx]
	}
	rest = strings.TrimSpace(rest)

	if len(rest) >= 2 && rest[0] == '"' && rest[len(rest)-1] == '"' {
		rest = rest[1 : len(rest)-1]
	}
	return key, rest, true
}

// isInsideQuotes reports whether position idx in s falls between an odd
// number of preceding double quotes (i.e. a `#` that is inside a quoted
// value rather than introducing a trailing comment).
func isInsideQuotes(s string, idx int) bool {
	count := strings.Count(s[:idx], `"`)
	return count%2 == 1
}

// WriteDeviceFile regenerates the device file: a header comment, the four
// hardware-identifying keys, then every other key captured in Extra with
// its value. The file is rewritten from scratch, so comments, quoting and
// the original line order are not kept, and Extra keys are written in no
// particular order.
func WriteDeviceFile(path string, df DeviceFile) error {
	lines := []string{
		"# Regenerated by device detection. Non-hardware keys below are preserved.",
		fmt.Sprintf("ARM_LEADER_PORT=%s", df.ArmLeaderPort),
		fmt.Sprintf("ARM_FOLLOWER_PORT=%s", df.ArmFollowerPort),
		fmt.Sprintf("CAMERA_TOP_PATH=%s", df.CameraTopPath),
		fmt.Sprintf("CAMERA_WRIST_PATH=%s", df.CameraWristPath),
	}
	for k, v := range df.Extra {
		if deviceFileHardwareKeys[k] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s=%s", k, v))
	}

	tmp := path + ".tmp." + strconv.FormatInt(int64(os.Getpid()), 10)
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("devicefile: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("devicefile: rename into place: %w", err)
	}
	return nil
}
