package app

import (
	"os"
	"strconv"
)

// TestModeEnv makes both binaries exit before dialling Postgres or Redis.
// The shared test harness sets it.
const TestModeEnv = "MOWE_TEST_MODE"

// InTestMode reports whether TestModeEnv holds a true value such as 1 or true.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
