//go:build ignore

// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

// Legacy stub file intentionally ignored by the Go build.
// Real implementations live in: conn.go, pool.go, submission_repo.go,
// token_repo.go, contest_repo.go, task_repo.go, result_repo.go,
// user_test_repo.go, user_test_result_repo.go
