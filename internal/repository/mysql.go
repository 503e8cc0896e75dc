package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// isDuplicate reports whether err is a MySQL duplicate-key violation
// (error 1062).  Unique indexes back several idempotency guarantees
// (one ticket per booking, one coupon usage per booking), so repos
// translate the violation into ErrConflict instead of leaking driver
// details upward.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
