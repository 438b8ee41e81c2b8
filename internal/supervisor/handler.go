package supervisor

import "github.com/mtaserv/mtaserv/internal/msgid"

func generateMsgID() (string, error) {
	return msgid.Generate()
}
