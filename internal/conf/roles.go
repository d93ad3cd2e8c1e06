package conf

import (
	"strconv"
	"strings"
)

// ParseRoleChatIDs parses the ROLE_CHAT_IDS format "ROLE_A:12345,ROLE_B:-1009988".
// Entries without a colon, with an empty role, or with a non-integer or zero
// chat id are skipped.
func ParseRoleChatIDs(raw string) map[string]string {
	out := make(map[string]string)
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		role, id, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		role = strings.ToUpper(strings.TrimSpace(role))
		id = strings.TrimSpace(id)
		if role == "" {
			continue
		}
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		out[role] = id
	}
	return out
}
