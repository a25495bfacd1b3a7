package eventstore

import (
	"fmt"
	"net/url"
	"strings"
)

// dsn builds a modernc.org/sqlite connection string with the pragmas the
// event store depends on: WAL for concurrent readers during writes,
// a busy_timeout so a reader never trips SQLITE_BUSY during a writer's
// batch flush, and foreign_keys so an event row can never outlive its
// session row.
func dsn(path string, busyTimeoutMs int) string {
	v := url.Values{}
	v.Set("_pragma", "busy_timeout("+fmt.Sprint(busyTimeoutMs)+")")
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "foreign_keys(ON)")
	if strings.HasPrefix(path, "file:") {
		return path + "&" + v.Encode()
	}
	return "file:" + path + "?" + v.Encode()
}
