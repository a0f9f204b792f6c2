package van

import (
	"fmt"
	"strconv"
	"strings"
)

// identityFor renders the wire identity frame for a node id, following
// ZMQVan's "ps" + id convention (GetNodeID in ZMQVan.cpp parses the same
// prefix back out). Unlike the source's digit-only scanner, parseIdentity
// uses strconv.Atoi so an unassigned node's "ps-1" identity round-trips
// to -1 instead of silently failing to parse.
func identityFor(id int) string {
	return fmt.Sprintf("ps%d", id)
}

// parseIdentity recovers the node id carried by an identity frame. ok is
// false if buf is not a well-formed "ps<id>" identity.
func parseIdentity(buf string) (int, bool) {
	if !strings.HasPrefix(buf, "ps") {
		return 0, false
	}
	id, err := strconv.Atoi(buf[2:])
	if err != nil {
		return 0, false
	}
	return id, true
}
