package smtpsession

import "strings"

// parseMailFromArg extracts the address from "FROM:<addr> [params]".
func parseMailFromArg(args string) (string, bool) {
	return parseAngleAddrArg(args, "FROM:")
}

// parseRcptToArg extracts the address from "TO:<addr> [params]".
func parseRcptToArg(args string) (string, bool) {
	return parseAngleAddrArg(args, "TO:")
}

func parseAngleAddrArg(args, keyword string) (string, bool) {
	args = strings.TrimSpace(args)
	upper := strings.ToUpper(args)
	if !strings.HasPrefix(upper, keyword) {
		return "", false
	}
	rest := strings.TrimSpace(args[len(keyword):])

	if rest == "" {
		return "", false
	}
	if rest[0] != '<' {
		// Some clients omit angle brackets; accept the bare token up to
		// the first space (the start of ESMTP parameters, if any).
		end := strings.IndexByte(rest, ' ')
		if end == -1 {
			end = len(rest)
		}
		addr := rest[:end]
		if addr == "" {
			return "", false
		}
		return addr, true
	}

	end := strings.IndexByte(rest, '>')
	if end == -1 {
		return "", false
	}
	return rest[1:end], true
}
