package runtime

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

// TLSConfig holds paths to TLS material for connecting to a remote
// runtime socket proxy over mTLS.
type TLSConfig struct {
	CACert     string
	ClientCert string
	ClientKey  string
}

func (t *TLSConfig) loadTLS() (*tls.Config, error) {
	caCert, err := os.ReadFile(t.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", t.CACert, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("parse CA cert %s", t.CACert)
	}
	cert, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// DockerRuntime is the Runtime Adapter backed by the Docker Engine API.
type DockerRuntime struct {
	api *client.Client
}

// NewDockerRuntime connects to the given socket or TCP endpoint. If
// tlsCfg is non-nil and fully populated, mTLS is configured for TCP.
func NewDockerRuntime(dockerSock string, tlsCfg *TLSConfig) (*DockerRuntime, error) {
	var opts []client.Opt

	switch {
	case strings.HasPrefix(dockerSock, "tcp://"), strings.HasPrefix(dockerSock, "tcps://"):
		opts = append(opts, client.WithHost(dockerSock))
		if tlsCfg != nil && tlsCfg.CACert != "" && tlsCfg.ClientCert != "" && tlsCfg.ClientKey != "" {
			tlsConfig, err := tlsCfg.loadTLS()
			if err != nil {
				return nil, fmt.Errorf("configure runtime TLS: %w", err)
			}
			if u, perr := url.Parse(dockerSock); perr == nil {
				tlsConfig.ServerName = u.Hostname()
			}
			opts = append(opts, client.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					TLSClientConfig:       tlsConfig,
					IdleConnTimeout:       90 * time.Second,
					TLSHandshakeTimeout:   10 * time.Second,
					ResponseHeaderTimeout: 30 * time.Second,
				},
			}))
		}
	default:
		opts = append(opts,
			client.WithHost("unix://"+dockerSock),
			client.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
						return net.DialTimeout("unix", dockerSock, 30*time.Second)
					},
				},
			}),
		)
	}

	api, err := client.New(opts...)
	if err != nil {
		return nil, err
	}
	return &DockerRuntime{api: api}, nil
}

// Ping checks that the runtime daemon is reachable.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.api.Ping(ctx, client.PingOptions{})
	return err
}

func (d *DockerRuntime) ListContainers(ctx context.Context) ([]Container, error) {
	result, err := d.api.ContainerList(ctx, client.ContainerListOptions{
		Filters: make(client.Filters).Add("status", "running"),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Container, 0, len(result.Items))
	for _, c := range result.Items {
		out = append(out, Container{ID: c.ID, ImageID: c.ImageID, Status: c.State})
	}
	return out, nil
}

// GetContainer finds the container labeled with the given workload uuid,
// scanning all containers (not just running ones) since a stopped
// container still counts as "exists" for idempotence purposes.
func (d *DockerRuntime) GetContainer(ctx context.Context, workloadUUID string) (Container, bool, error) {
	result, err := d.api.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: make(client.Filters).Add("label", WorkloadLabel+"="+workloadUUID),
	})
	if err != nil {
		return Container{}, false, err
	}
	if len(result.Items) == 0 {
		return Container{}, false, nil
	}
	c := result.Items[0]
	ip, _ := d.GetContainerIPAddress(ctx, c.ID)
	return Container{ID: c.ID, ImageID: c.ImageID, Status: c.State, IP: ip}, true, nil
}

func (d *DockerRuntime) FindLocalImage(ctx context.Context, image string) (bool, error) {
	_, err := d.api.ImageInspect(ctx, image)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *DockerRuntime) PullImage(ctx context.Context, image string, reg RegistryAuth) error {
	opts := client.ImagePullOptions{}
	if !reg.FromCache() && reg.Username != "" {
		opts.RegistryAuth = encodeRegistryAuth(reg)
	}
	resp, err := d.api.ImagePull(ctx, image, opts)
	if err != nil {
		return err
	}
	return resp.Wait(ctx)
}

func (d *DockerRuntime) CreateContainer(ctx context.Context, spec Spec, hostIP string) (string, string, error) {
	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[WorkloadLabel] = spec.WorkloadUUID

	cfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: labels,
	}
	hostCfg := &container.HostConfig{
		Binds: spec.Binds,
	}
	netCfg := &network.NetworkingConfig{}

	resp, err := d.api.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name:             "fogwarden-" + spec.WorkloadUUID,
		Config:           cfg,
		HostConfig:       hostCfg,
		NetworkingConfig: netCfg,
	})
	if err != nil {
		return "", "", err
	}

	// Resolve the resolved image ID off the freshly created container so
	// later cleanup (RemoveImageByID) never has to guess it from a tag.
	var imageID string
	if inspect, ierr := d.api.ContainerInspect(ctx, resp.ID, client.ContainerInspectOptions{}); ierr == nil {
		imageID = inspect.Container.Image
	}
	return resp.ID, imageID, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	_, err := d.api.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return err
}

func (d *DockerRuntime) StopContainer(ctx context.Context, containerID string) error {
	timeout := 10
	_, err := d.api.ContainerStop(ctx, containerID, client.ContainerStopOptions{Timeout: &timeout})
	return err
}

func (d *DockerRuntime) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	resp, err := d.api.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		return false, err
	}
	return resp.Container.State != nil && resp.Container.State.Running, nil
}

func (d *DockerRuntime) GetContainerStatus(ctx context.Context, containerID string) (string, bool, error) {
	resp, err := d.api.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if resp.Container.State == nil {
		return "unknown", true, nil
	}
	return resp.Container.State.Status, true, nil
}

func (d *DockerRuntime) GetContainerIPAddress(ctx context.Context, containerID string) (string, error) {
	resp, err := d.api.ContainerInspect(ctx, containerID, client.ContainerInspectOptions{})
	if err != nil {
		return "", err
	}
	if resp.Container.NetworkSettings == nil {
		return "", nil
	}
	for _, net := range resp.Container.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress, nil
		}
	}
	return "", nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID, imageID string, withCleanUp bool) error {
	_, err := d.api.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: withCleanUp,
	})
	return err
}

func (d *DockerRuntime) RemoveImageByID(ctx context.Context, imageID string) error {
	_, err := d.api.ImageRemove(ctx, imageID, client.ImageRemoveOptions{PruneChildren: true})
	return err
}

func (d *DockerRuntime) Close() error {
	return d.api.Close()
}

// encodeRegistryAuth builds the base64(json) X-Registry-Auth envelope the
// Engine API expects for authenticated pulls.
func encodeRegistryAuth(reg RegistryAuth) string {
	payload, err := json.Marshal(struct {
		Username      string `json:"username"`
		Password      string `json:"password"`
		ServerAddress string `json:"serveraddress"`
	}{reg.Username, reg.Password, reg.URL})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(payload)
}

var _ Runtime = (*DockerRuntime)(nil)
