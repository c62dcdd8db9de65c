package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，文件名以版本号开头，按字典序执行。
//
//go:embed *.sql
var Files embed.FS
