package hypr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoInstance is returned when the Hyprland instance cannot be located
// from the environment.
var ErrNoInstance = errors.New("hyprland instance not found: XDG_RUNTIME_DIR or HYPRLAND_INSTANCE_SIGNATURE unset")

// Paths holds the two well-known sockets of a Hyprland instance.
type Paths struct {
	Command string
	Events  string
}

// ResolvePaths derives the socket paths from the runtime directory and
// instance signature. Empty arguments are read from the environment.
func ResolvePaths(runtimeDir, signature string) (Paths, error) {
	if runtimeDir == "" {
		runtimeDir = os.Getenv("XDG_RUNTIME_DIR")
	}
	if signature == "" {
		signature = os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")
	}
	if runtimeDir == "" || signature == "" {
		return Paths{}, ErrNoInstance
	}

	base := filepath.Join(runtimeDir, "hypr", signature)
	p := Paths{
		Command: filepath.Join(base, ".socket.sock"),
		Events:  filepath.Join(base, ".socket2.sock"),
	}
	// sockaddr_un.sun_path is 108 bytes including the terminator
	if len(p.Events) >= 108 {
		return Paths{}, fmt.Errorf("socket path too long: %s", p.Events)
	}
	return p, nil
}

// pathCache resolves the paths on first successful use and remembers them.
type pathCache struct {
	mu         sync.Mutex
	runtimeDir string
	signature  string
	resolved   *Paths
}

func (c *pathCache) get() (Paths, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved != nil {
		return *c.resolved, nil
	}
	p, err := ResolvePaths(c.runtimeDir, c.signature)
	if err != nil {
		return Paths{}, err
	}
	c.resolved = &p
	return p, nil
}
