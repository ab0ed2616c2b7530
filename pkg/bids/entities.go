package bids

import (
	"path/filepath"
	"strings"
)

// Entity returns the value of a key-value entity in a BIDS file name:
// Entity("sub-01_task-rest_eeg.set", "task") is "rest".
func Entity(path, key string) string {
	for _, part := range strings.Split(stem(path), "_") {
		if v, ok := strings.CutPrefix(part, key+"-"); ok {
			return v
		}
	}
	return ""
}

// SidecarPath swaps the modality suffix and extension of a BIDS file name:
// SidecarPath("x/sub-01_task-rest_eeg.bdf", "channels.tsv") is
// "x/sub-01_task-rest_channels.tsv".
func SidecarPath(path, suffix string) string {
	s := stem(path)
	if i := strings.LastIndex(s, "_"); i >= 0 && !strings.Contains(s[i+1:], "-") {
		s = s[:i]
	}
	return filepath.Join(filepath.Dir(path), s+"_"+suffix)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
