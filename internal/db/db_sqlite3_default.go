//go:build !sqlite3_cgo

package db

// pure go driver (wasm), no cgo toolchain needed for release builds
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const driverID = "ncruces/go-sqlite3"
const driverName = "sqlite3"
