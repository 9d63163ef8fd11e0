package migrations

import "embed"

// Files 暴露 fixture 表的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
