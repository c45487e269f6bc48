package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4/database"
)

// sqliteDriver 是 golang-migrate 的 database.Driver，在调用方的 *sql.DB 上执行。
// migrate 自带的 sqlite 驱动会注册 modernc.org/sqlite 的 "sqlite" 名字，
// 与 glebarez/go-sqlite 的注册冲突；sqlite3 驱动需要 cgo。
// Open 的连接池只有一个连接，所以这里不持有 *sql.Conn，也不在读 rows 时执行写语句。
type sqliteDriver struct {
	db     *sql.DB
	table  string
	locked atomic.Bool
}

var _ database.Driver = (*sqliteDriver)(nil)

func newSQLiteDriver(ctx context.Context, db *sql.DB, table string) (*sqliteDriver, error) {
	d := &sqliteDriver{db: db, table: table}
	if err := d.ensureVersionTable(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) ensureVersionTable(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (version uint64, dirty bool)", d.table),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON %s (version)", d.table),
	}
	for _, q := range stmts {
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return &database.Error{OrigErr: err, Query: []byte(q)}
		}
	}
	return nil
}

// Open 只支持 WithInstance 方式
func (d *sqliteDriver) Open(string) (database.Driver, error) {
	return nil, errors.New("sqlite migration driver requires an open database handle")
}

// Close 连接池归 PoolManager 所有
func (d *sqliteDriver) Close() error {
	return nil
}

func (d *sqliteDriver) Lock() error {
	if !d.locked.CompareAndSwap(false, true) {
		return database.ErrLocked
	}
	return nil
}

func (d *sqliteDriver) Unlock() error {
	if !d.locked.CompareAndSwap(true, false) {
		return database.ErrNotLocked
	}
	return nil
}

func (d *sqliteDriver) Run(migration io.Reader) error {
	body, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	if _, err := d.db.Exec(string(body)); err != nil {
		return &database.Error{OrigErr: err, Err: "migration failed", Query: body}
	}
	return nil
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return &database.Error{OrigErr: err, Err: "transaction start failed"}
	}

	q := "DELETE FROM " + d.table
	if _, err := tx.Exec(q); err != nil {
		_ = tx.Rollback()
		return &database.Error{OrigErr: err, Query: []byte(q)}
	}

	// NilVersion 且 dirty 表示首个迁移执行中途失败，也要留下记录
	if version >= 0 || (version == database.NilVersion && dirty) {
		q = fmt.Sprintf("INSERT INTO %s (version, dirty) VALUES (?, ?)", d.table)
		if _, err := tx.Exec(q, version, dirty); err != nil {
			_ = tx.Rollback()
			return &database.Error{OrigErr: err, Query: []byte(q)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &database.Error{OrigErr: err, Err: "transaction commit failed"}
	}
	return nil
}

func (d *sqliteDriver) Version() (int, bool, error) {
	var (
		version int
		dirty   bool
	)
	q := fmt.Sprintf("SELECT version, dirty FROM %s LIMIT 1", d.table)
	err := d.db.QueryRow(q).Scan(&version, &dirty)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return database.NilVersion, false, nil
	case err != nil:
		return 0, false, &database.Error{OrigErr: err, Query: []byte(q)}
	default:
		return version, dirty, nil
	}
}

// Drop 删除所有用户表，包括版本表
func (d *sqliteDriver) Drop() error {
	q := "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
	rows, err := d.db.Query(q)
	if err != nil {
		return &database.Error{OrigErr: err, Query: []byte(q)}
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range tables {
		q := fmt.Sprintf("DROP TABLE IF EXISTS %q", t)
		if _, err := d.db.Exec(q); err != nil {
			return &database.Error{OrigErr: err, Query: []byte(q)}
		}
	}
	return nil
}
