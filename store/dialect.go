package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported SQL backends.
// Queries are written with '?' placeholders and rebound per backend.
type dialect struct {
	name       string
	driverName string
	autoID     string
	timeType   string
	returning  bool
	forUpdate  string
	indexes    bool
}

var dialects = map[string]dialect{
	"postgres": {
		name:       "postgres",
		driverName: "postgres",
		autoID:     "BIGSERIAL PRIMARY KEY",
		timeType:   "TIMESTAMPTZ",
		returning:  true,
		forUpdate:  " FOR UPDATE",
		indexes:    true,
	},
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		autoID:     "BIGINT AUTO_INCREMENT PRIMARY KEY",
		timeType:   "DATETIME(6)",
		forUpdate:  " FOR UPDATE",
	},
	// SQLite has no row locks; the store serialises access through a
	// single connection instead.
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		autoID:     "INTEGER PRIMARY KEY AUTOINCREMENT",
		timeType:   "TIMESTAMP",
		returning:  true,
		indexes:    true,
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
	return d, nil
}

// rebind rewrites '?' placeholders into '$n' for postgres.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dsn adapts a configured data source for the driver.
func (d dialect) dsn(raw string) string {
	if d.name != "sqlite" || strings.HasPrefix(raw, "file:") {
		return raw
	}
	return "file:" + raw + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (d dialect) schema() []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS app_user (
			username VARCHAR(64) NOT NULL PRIMARY KEY,
			account_balance NUMERIC(18, 2) NOT NULL DEFAULT 0,
			created_at %[1]s NOT NULL
		)`, d.timeType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS asset (
			assetid %[1]s,
			username VARCHAR(64) NOT NULL,
			ticker VARCHAR(10) NOT NULL,
			shares BIGINT NOT NULL,
			UNIQUE (username, ticker),
			FOREIGN KEY (username) REFERENCES app_user (username)
		)`, d.autoID),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS parent_order (
			porderid %[1]s,
			ticker VARCHAR(10) NOT NULL,
			shares BIGINT NOT NULL,
			order_type VARCHAR(4) NOT NULL,
			amount NUMERIC(18, 2) NOT NULL,
			username VARCHAR(64) NOT NULL,
			total_status VARCHAR(16) NOT NULL,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			FOREIGN KEY (username) REFERENCES app_user (username)
		)`, d.autoID, d.timeType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trade (
			tradeid %[1]s,
			buyer_username VARCHAR(64) NULL,
			seller_username VARCHAR(64) NULL,
			ticker VARCHAR(10) NOT NULL,
			shares BIGINT NOT NULL,
			price NUMERIC(18, 4) NOT NULL,
			completed_at %[2]s NOT NULL,
			FOREIGN KEY (buyer_username) REFERENCES app_user (username),
			FOREIGN KEY (seller_username) REFERENCES app_user (username)
		)`, d.autoID, d.timeType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS child_order (
			corderid %[1]s,
			porderid BIGINT NOT NULL,
			price NUMERIC(18, 4) NOT NULL,
			shares BIGINT NOT NULL,
			order_type VARCHAR(4) NOT NULL,
			status VARCHAR(16) NOT NULL,
			tradeid BIGINT NULL,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			FOREIGN KEY (porderid) REFERENCES parent_order (porderid),
			FOREIGN KEY (tradeid) REFERENCES trade (tradeid)
		)`, d.autoID, d.timeType),
	}
	// MySQL indexes foreign key columns itself and lacks CREATE INDEX IF NOT EXISTS.
	if d.indexes {
		stmts = append(stmts,
			"CREATE INDEX IF NOT EXISTS idx_parent_order_username ON parent_order (username)",
			"CREATE INDEX IF NOT EXISTS idx_child_order_porderid ON child_order (porderid)",
			"CREATE INDEX IF NOT EXISTS idx_child_order_status ON child_order (status)",
		)
	}
	return stmts
}
