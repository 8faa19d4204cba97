package provision

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"ndbctl/internal/config"
	"ndbctl/internal/logging"
	"ndbctl/internal/topology"
)

// AWS discovers the running instances tagged with the project name. The
// instance with a public address becomes the head node.
type AWS struct {
	cfg    *config.Config
	client ec2.DescribeInstancesAPIClient
}

// NewAWS returns an AWS resolver using the given EC2 client.
func NewAWS(cfg *config.Config, client ec2.DescribeInstancesAPIClient) *AWS {
	return &AWS{cfg: cfg, client: client}
}

func (a *AWS) Name() string { return string(config.ClusterTypeAWS) }

func (a *AWS) Resolve(ctx context.Context) (*topology.Topology, error) {
	log := logging.L().With("component", "provision", "provider", "aws")

	client := a.client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Network.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		client = ec2.NewFromConfig(awsCfg)
	}

	log.Infow("→ describing instances", "project", a.cfg.Project.Name, "region", a.cfg.Network.Region)
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:Project"), Values: []string{a.cfg.Project.Name}},
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	}

	var instances []types.Instance
	paginator := ec2.NewDescribeInstancesPaginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, r := range page.Reservations {
			instances = append(instances, r.Instances...)
		}
	}

	var head *types.Instance
	var clients []string
	for i := range instances {
		inst := &instances[i]
		private := aws.ToString(inst.PrivateIpAddress)
		if private == "" {
			continue
		}
		if head == nil && aws.ToString(inst.PublicIpAddress) != "" {
			head = inst
			continue
		}
		clients = append(clients, private)
	}
	if head == nil {
		return nil, errors.New("no running instance with a public ip found for project " + a.cfg.Project.Name)
	}
	if want := a.cfg.VMSetup.VMCount; want > 0 && len(clients)+1 != want {
		log.Warnw(fmt.Sprintf("⚠️ expected %d instances, found %d", want, len(clients)+1))
	}

	sortIPs(clients)
	return applyDiscovered(a.cfg, a.cfg.VMSetup.SSHUsername,
		aws.ToString(head.PrivateIpAddress), aws.ToString(head.PublicIpAddress), clients)
}

func sortIPs(ips []string) {
	slices.SortFunc(ips, func(a, b string) int {
		pa, errA := netip.ParseAddr(a)
		pb, errB := netip.ParseAddr(b)
		if errA != nil || errB != nil {
			return cmp.Compare(a, b)
		}
		return pa.Compare(pb)
	})
}
