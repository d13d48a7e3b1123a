package archive

import (
	"path/filepath"
	"regexp"
	"strings"
)

var badChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// SanitizeName strips the extension and any OS-illegal characters from name,
// producing a safe base name for volume and recovery-file naming.
func SanitizeName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimSpace(badChars.ReplaceAllString(name, "_"))
}
