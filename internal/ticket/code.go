package ticket

import (
	"strconv"
	"strings"
	"time"
)

// DeriveCode builds the human-readable ticket code from the ticket
// row's generated id and the visit date, e.g. PRK-260310-00000A.  The
// id guarantees uniqueness; the date prefix lets gate staff eyeball a
// ticket's day without scanning it.  Issuance is two-phase because
// this code cannot exist before the row does.
func DeriveCode(id uint64, visitDate time.Time) string {
	suffix := strings.ToUpper(strconv.FormatUint(id, 36))
	if len(suffix) < 6 {
		suffix = strings.Repeat("0", 6-len(suffix)) + suffix
	}
	return "PRK-" + visitDate.Format("060102") + "-" + suffix
}
