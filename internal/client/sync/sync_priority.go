package sync

import (
	"math"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var defaultPriorityFiles = []string{
	"**/*.request",
	"**/*.response",
	"**/syft.pub.yaml", // permission files go first so the files they guard are readable
}

// SyncPriorityList moves matching paths ahead of the size ordering of
// transfers.
type SyncPriorityList struct {
	patterns []string
}

func NewSyncPriorityList(extra ...string) *SyncPriorityList {
	patterns := append([]string{}, defaultPriorityFiles...)
	for _, p := range extra {
		if doublestar.ValidatePattern(p) {
			patterns = append(patterns, p)
		}
	}
	return &SyncPriorityList{patterns: patterns}
}

func (s *SyncPriorityList) ShouldPrioritize(path string) bool {
	path = strings.TrimLeft(path, "/")
	for _, pattern := range s.patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// Priority orders transfers: prioritized paths first, then smaller files
// before larger ones.
func (s *SyncPriorityList) Priority(r *FileMetadata) int64 {
	if s.ShouldPrioritize(r.Path) {
		return math.MinInt64/2 + r.Size
	}
	return r.Size
}
