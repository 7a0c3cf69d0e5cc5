package supervisor

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fogwarden/agent/internal/connector"
	"github.com/fogwarden/agent/internal/registry"
)

// registryResolver resolves a receiver's named connector producer
// configuration against the Workload Registry's registries table. The
// spec's registries table already carries everything a remote connector
// needs (host:port in URL, optional credentials, optional TLS CA, a
// dev-mode flag) — there is no separate connector-config table, so a
// registry entry does double duty when referenced from a route.
type registryResolver struct {
	reg    *registry.Store
	nodeID string
}

func newRegistryResolver(reg *registry.Store, nodeID string) *registryResolver {
	return &registryResolver{reg: reg, nodeID: nodeID}
}

// ResolveConnectorConfig implements routing.ConnectorConfigResolver.
func (r *registryResolver) ResolveConnectorConfig(name string) (connector.Config, bool) {
	reg, ok := r.reg.FindRegistry(name)
	if !ok || reg.FromCache() {
		return connector.Config{}, false
	}

	host, portStr, err := net.SplitHostPort(reg.URL)
	if err != nil {
		return connector.Config{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return connector.Config{}, false
	}

	return connector.Config{
		Host:     host,
		Port:     port,
		ClientID: fmt.Sprintf("fogwarden-%s-%s", r.nodeID, name),
		Username: reg.Username,
		Password: reg.Password,
		DevMode:  reg.DevModeEnabled,
		Cert:     reg.TLSCert,
	}, true
}
