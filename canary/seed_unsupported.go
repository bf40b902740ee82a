//go:build !(linux && amd64)

package canary

import (
	"fmt"
	"runtime"
)

func readCanarySeed() (uint64, error) {
	return 0, fmt.Errorf("reading the canary is not supported on %s/%s",
		runtime.GOOS, runtime.GOARCH)
}
