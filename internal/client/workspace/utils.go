package workspace

import (
	"strings"

	"github.com/openmined/syftsync/internal/utils"
)

// HasDatasiteOwner reports whether a slash separated path starts with an
// owner email followed by at least one more segment.
func HasDatasiteOwner(path string) bool {
	owner, rest, ok := strings.Cut(path, "/")
	return ok && rest != "" && utils.IsValidEmail(owner)
}
