package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/correlation"
	"github.com/vietddude/faultline/internal/mapping"
)

// GRPCProbe checks a gRPC dependency through the standard health service.
type GRPCProbe struct {
	name    string
	service string
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
}

// NewGRPCProbe creates a probe for endpoint. https:// or :443 endpoints use TLS.
// service is the health service name; empty checks the server as a whole.
// opts are applied after the defaults.
func NewGRPCProbe(name, endpoint, service string, opts ...grpc.DialOption) (*GRPCProbe, error) {
	target := endpoint
	var creds grpc.DialOption
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))
		target = strings.TrimPrefix(target, "https://")
	} else {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, append([]grpc.DialOption{creds}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCProbe{
		name:    name,
		service: service,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
	}, nil
}

// Check calls Health/Check. RPC failures are classified from their status;
// a NOT_SERVING answer becomes SERVICE_UNAVAILABLE.
func (p *GRPCProbe) Check(ctx context.Context) error {
	if id := correlation.FromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, correlation.Header, id)
	}

	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		if ae, ok := mapping.FromGRPC(err, p.name); ok {
			return ae
		}
		return fmt.Errorf("probe %s: %w", p.name, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return apperror.New(apperror.CodeServiceUnavailable,
			fmt.Sprintf("%s reports %s", p.name, resp.GetStatus()),
			apperror.WithRetryAfter(5),
			apperror.WithDetails(&apperror.Details{Service: p.name, UpstreamCode: resp.GetStatus().String()}),
		)
	}
	return nil
}

// Close closes the connection.
func (p *GRPCProbe) Close() error { return p.conn.Close() }
