package store

import (
	"fmt"
	"strings"
	"time"

	"web3nst/utils"
)

// Namer produces destination filenames of the form
// {fieldName}-{epochMillis}.{extension}.
//
// Names are only unique to the millisecond: two uploads under the same
// field within one millisecond get the same name and the later write
// replaces the earlier file.
type Namer struct {
	now func() time.Time
}

// NewNamer creates a Namer. A nil clock means time.Now.
func NewNamer(now func() time.Time) *Namer {
	if now == nil {
		now = time.Now
	}
	return &Namer{now: now}
}

// Name samples the clock and builds the stored name for an incoming file.
func (n *Namer) Name(fieldName, originalFilename string) (name, ext string, receivedAt time.Time) {
	receivedAt = n.now()
	ext = Extension(originalFilename)
	name = fmt.Sprintf("%s-%d.%s",
		utils.SanitizeFilenamePart(fieldName),
		receivedAt.UnixMilli(),
		utils.SanitizeFilenamePart(ext),
	)
	return name, ext, receivedAt
}

// Extension returns the text after the last '.' of filename, or "" when
// there is none.
func Extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return filename[i+1:]
}
