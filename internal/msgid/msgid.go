// Package msgid generates the message-id strings used as both the
// mailctx.MsgMetadata.ID (spec.md §3) and the on-disk queue filename
// (spec.md §4.6). IDs are monotone-unique (time-prefixed) and
// printable-ASCII with no path separators, per spec.md §6.
//
// Grounded on foxcpp-maddy's msgpipeline.GenerateMsgID (crypto/rand hex
// string), extended with a time prefix and google/uuid's random component
// (a real dependency in the teacher's own go.mod) to resolve spec.md §9's
// open question on message-id format.
package msgid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generate returns a new message-id: an 8-hex-digit big-endian Unix-time
// prefix (for rough chronological sortability when listing a queue
// directory) followed by a random UUIDv4 with dashes removed.
func Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08x-%s", time.Now().Unix(), strings.ReplaceAll(id.String(), "-", "")), nil
}
