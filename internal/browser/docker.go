package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// containerInstance tracks a browser launched inside a container.
type containerInstance struct {
	ID    string
	WSURL string
	Port  string
}

// dockerLauncher launches Chrome inside a container and exposes its CDP
// endpoint. It is the opt-in alternative to a local executable for hosts
// where installing a browser is not an option.
type dockerLauncher struct {
	cli   *client.Client
	image string
}

func newDockerLauncher(imageName string) (*dockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &dockerLauncher{cli: cli, image: imageName}, nil
}

// EnsureImage pulls the browser image if it is not present locally.
func (d *dockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	if imagePresent(images, d.image) {
		return nil
	}
	reader, err := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	buf := make([]byte, 32*1024)
	for {
		if _, err := reader.Read(buf); err != nil {
			break
		}
	}
	return nil
}

func imagePresent(images []image.Summary, want string) bool {
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == want {
				return true
			}
		}
	}
	return false
}

// Launch starts one container scoped to the session and waits for its
// CDP endpoint to answer.
func (d *dockerLauncher) Launch(ctx context.Context, sessionID string) (*containerInstance, error) {
	containerConfig := &container.Config{
		Image: d.image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "webpilot",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		},
		AutoRemove: false,
	}

	name := "webpilot-" + sessionID
	if len(sessionID) >= 8 {
		name = "webpilot-" + sessionID[:8]
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.Stop(context.Background(), resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		d.Stop(context.Background(), resp.ID)
		return nil, fmt.Errorf("no port binding for container %s", resp.ID)
	}
	port := bindings[0].HostPort

	if err := waitForCDP(ctx, port); err != nil {
		d.Stop(context.Background(), resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	return &containerInstance{
		ID:    resp.ID,
		WSURL: fmt.Sprintf("ws://localhost:%s", port),
		Port:  port,
	}, nil
}

// Stop stops and removes the session's container.
func (d *dockerLauncher) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (d *dockerLauncher) Close() error {
	return d.cli.Close()
}

// waitForCDP polls the /json/version endpoint until the containerized
// browser answers.
func waitForCDP(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	const maxRetries = 20

	for i := 0; i < maxRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				time.Sleep(500 * time.Millisecond)
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}
