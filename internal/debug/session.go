package debug

import (
	"fmt"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"github.com/jessegoodier/kdebug/internal/resolve"
)

const (
	// DefaultImage is the debug container image used when none is given.
	DefaultImage = "ghcr.io/jessegoodier/toolbox:latest"

	// ProcessRootPrefix is the shared process-namespace view of the target
	// container's root filesystem, as seen from the debug container.
	ProcessRootPrefix = "/proc/1/root"

	// containerNamePrefix marks ephemeral containers created by kdebug.
	containerNamePrefix = "debugger"

	// holderSeconds bounds the lifetime of the holder process that keeps
	// the debug container alive between execs. If cleanup cannot stop the
	// holder, the container terminates on its own after this long.
	holderSeconds = 3600

	// nonRootUID is the user the debug container runs as unless root was
	// requested explicitly.
	nonRootUID = int64(1000)
)

// Session describes one debug container invocation. ContainerName is
// generated, unique per invocation, so concurrent sessions against the same
// pod never collide.
type Session struct {
	Target resolve.Target

	// Image is the debug container image.
	Image string

	// AsRoot runs the debug container with UID 0.
	AsRoot bool

	// WorkingDir starts the interactive shell in this directory of the
	// target container's filesystem (resolved through ProcessRootPrefix).
	WorkingDir string

	// Command overrides shell probing when set.
	Command []string

	// ContainerName is the generated ephemeral container name.
	ContainerName string
}

// NewSession builds a Session with a fresh container name.
func NewSession(target resolve.Target, image string) *Session {
	if image == "" {
		image = DefaultImage
	}
	return &Session{
		Target:        target,
		Image:         image,
		ContainerName: newContainerName(),
	}
}

// newContainerName generates a readable, collision-free container name,
// e.g. "debugger-casual-mole-3f9a21d4".
func newContainerName() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", containerNamePrefix, petname.Generate(2, "-"), suffix)
}
