package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"

	"ndbctl/internal/config"
	"ndbctl/internal/logging"
	"ndbctl/internal/topology"
)

// EnvAzureSubscription names the subscription the resource group lives in.
const EnvAzureSubscription = "AZURE_SUBSCRIPTION_ID"

const headNICName = "NodeHeadNic"

// InterfacesGetter is the subset of armnetwork.InterfacesClient the resolver uses.
type InterfacesGetter interface {
	Get(ctx context.Context, resourceGroupName, networkInterfaceName string, options *armnetwork.InterfacesClientGetOptions) (armnetwork.InterfacesClientGetResponse, error)
}

// PublicIPGetter is the subset of armnetwork.PublicIPAddressesClient the resolver uses.
type PublicIPGetter interface {
	Get(ctx context.Context, resourceGroupName, publicIPAddressName string, options *armnetwork.PublicIPAddressesClientGetOptions) (armnetwork.PublicIPAddressesClientGetResponse, error)
}

// Azure reads node addresses from the network interfaces created for the
// cluster: NodeHeadNic for the head node and Node{i}Nic for the others.
type Azure struct {
	cfg        *config.Config
	interfaces InterfacesGetter
	publicIPs  PublicIPGetter
}

// NewAzure returns an Azure resolver using the given clients.
func NewAzure(cfg *config.Config, interfaces InterfacesGetter, publicIPs PublicIPGetter) *Azure {
	return &Azure{cfg: cfg, interfaces: interfaces, publicIPs: publicIPs}
}

func (a *Azure) Name() string { return string(config.ClusterTypeAzure) }

func (a *Azure) clients() error {
	if a.interfaces != nil && a.publicIPs != nil {
		return nil
	}
	subscription := os.Getenv(EnvAzureSubscription)
	if subscription == "" {
		return fmt.Errorf("%s is not set", EnvAzureSubscription)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return fmt.Errorf("failed to obtain Azure credential: %w", err)
	}
	interfaces, err := armnetwork.NewInterfacesClient(subscription, cred, nil)
	if err != nil {
		return fmt.Errorf("failed to create interfaces client: %w", err)
	}
	publicIPs, err := armnetwork.NewPublicIPAddressesClient(subscription, cred, nil)
	if err != nil {
		return fmt.Errorf("failed to create public ip client: %w", err)
	}
	a.interfaces, a.publicIPs = interfaces, publicIPs
	return nil
}

func (a *Azure) Resolve(ctx context.Context) (*topology.Topology, error) {
	log := logging.L().With("component", "provision", "provider", "azure")
	if err := a.clients(); err != nil {
		return nil, err
	}

	group := a.cfg.Azure.ResourceGroupName
	log.Infow("→ reading network interfaces", "resource_group", group, "vm_count", a.cfg.VMSetup.VMCount)

	head, err := a.interfaces.Get(ctx, group, headNICName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", headNICName, err)
	}
	headPrivate, ipCfg, err := primaryIP(head.Interface)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", headNICName, err)
	}

	publicName := a.cfg.Azure.HeadNodeIPName
	if ipCfg.PublicIPAddress != nil && ipCfg.PublicIPAddress.ID != nil {
		publicName = path.Base(*ipCfg.PublicIPAddress.ID)
	}
	pip, err := a.publicIPs.Get(ctx, group, publicName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get public ip %s: %w", publicName, err)
	}
	if pip.Properties == nil || pip.Properties.IPAddress == nil {
		return nil, fmt.Errorf("public ip %s has no address assigned", publicName)
	}

	var clients []string
	for i := 1; i < a.cfg.VMSetup.VMCount; i++ {
		name := fmt.Sprintf("Node%dNic", i)
		nic, err := a.interfaces.Get(ctx, group, name, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", name, err)
		}
		ip, _, err := primaryIP(nic.Interface)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		clients = append(clients, ip)
	}

	return applyDiscovered(a.cfg, a.cfg.VMSetup.SSHUsername, headPrivate, *pip.Properties.IPAddress, clients)
}

func primaryIP(nic armnetwork.Interface) (string, *armnetwork.InterfaceIPConfigurationPropertiesFormat, error) {
	if nic.Properties == nil || len(nic.Properties.IPConfigurations) == 0 {
		return "", nil, errors.New("interface has no ip configuration")
	}
	cfg := nic.Properties.IPConfigurations[0]
	if cfg == nil || cfg.Properties == nil || cfg.Properties.PrivateIPAddress == nil {
		return "", nil, errors.New("interface has no private ip")
	}
	return *cfg.Properties.PrivateIPAddress, cfg.Properties, nil
}
