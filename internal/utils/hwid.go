package utils

import (
	"github.com/denisbrodbeck/machineid"
)

// HWID is a per-machine identifier sent with every request so the server can
// tell devices of the same datasite apart. It is hashed with the app id, the
// raw machine id never leaves the host.
var HWID = hardwareID()

func hardwareID() string {
	id, err := machineid.ProtectedID("syftsync")
	if err != nil || id == "" {
		return "unknown"
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return id
}
