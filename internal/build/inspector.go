package build

import (
	"context"
	"fmt"
	"sort"

	"github.com/docker/docker/client"
)

// DockerInspector reads image metadata through the local Docker daemon.
type DockerInspector struct {
	api *client.Client
}

func NewDockerInspector() (*DockerInspector, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerInspector{api: api}, nil
}

// FirstExposedTCPPort returns the lowest TCP port the image declares via
// EXPOSE. Images without exposed TCP ports yield an error so callers fall
// back to detection.
func (d *DockerInspector) FirstExposedTCPPort(ctx context.Context, ref string) (int, error) {
	inspect, _, err := d.api.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	if inspect.Config == nil || len(inspect.Config.ExposedPorts) == 0 {
		return 0, fmt.Errorf("image %s exposes no ports", ref)
	}

	var ports []int
	for p := range inspect.Config.ExposedPorts {
		if p.Proto() != "tcp" {
			continue
		}
		ports = append(ports, p.Int())
	}
	if len(ports) == 0 {
		return 0, fmt.Errorf("image %s exposes no tcp ports", ref)
	}
	sort.Ints(ports)
	return ports[0], nil
}
