package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/syftsync/internal/datasite"
	"github.com/openmined/syftsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const syftignoreFile = "syftignore"

var defaultIgnoreLines = []string{
	// syft
	"syftignore",
	"**/*syftrejected*",
	"**/*syftconflict*",
	".syftkeep",
	// staging files of the workspace
	".syftsync-*.tmp",
	// python
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	"venv/",
	".venv/",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*.tmp",
	"*.log",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// SyncIgnoreList decides which datasite paths never take part in a cycle.
// Rules use gitignore syntax and are matched against datasite paths.
type SyncIgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewSyncIgnoreList(baseDir string) *SyncIgnoreList {
	return &SyncIgnoreList{
		baseDir: baseDir,
		ignore:  gitignore.CompileIgnoreLines(defaultIgnoreLines...),
	}
}

// Load reads baseDir/syftignore on top of the default rules.
func (s *SyncIgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, syftignoreFile)
	ignoreLines := append([]string{}, defaultIgnoreLines...)

	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("syftignore open", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" && !strings.HasPrefix(line, "#") {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("syftignore read", "path", ignorePath, "error", err)
			} else {
				slog.Info("syftignore loaded", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

func (s *SyncIgnoreList) ShouldIgnore(path string) bool {
	return s.ignore.MatchesPath(strings.TrimLeft(path, "/"))
}

// Filter drops ignored records from a state and returns how many it dropped.
func (s *SyncIgnoreList) Filter(st datasite.State) (datasite.State, int) {
	dropped := 0
	out := st.Filter(func(_ string, r *datasite.FileMetadata) bool {
		if s.ShouldIgnore(r.Path) {
			dropped++
			return false
		}
		return true
	})
	return out, dropped
}
