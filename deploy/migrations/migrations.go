package migrations

import "embed"

// Files 内嵌全部 SQL 迁移脚本，启动时由存储层按版本号依次执行。
//
//go:embed *.sql
var Files embed.FS
