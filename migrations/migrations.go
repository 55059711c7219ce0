// Package migrations 内嵌的数据库迁移脚本。
//
// postgres/ 由 database.Migrate 按文件名顺序执行并记录到 schema_version;
// sqlite/ 由 database.OpenSQLite 在打开时执行。
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Postgres 返回 PostgreSQL 迁移目录。
func Postgres() fs.FS { return sub("postgres") }

// SQLite 返回 SQLite 迁移目录。
func SQLite() fs.FS { return sub("sqlite") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		// embed 路径在编译期已校验
		panic(err)
	}
	return f
}
