package opnsense

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/cockroachdb/errors"

	"opnsensectl/internal/fault"
)

// Endpoints under /api/.
const (
	EndpointSystemInfo     = "core/system/info"
	EndpointBackupCreate   = "core/backup/backup"
	EndpointBackupDownload = "core/backup/download/"
	EndpointBackupRestore  = "core/backup/restore"
	EndpointPing           = "diagnostics/interface/ping"
)

// RestoreField is the multipart field the restore endpoint reads.
const RestoreField = "conffile"

// Appliance is the subset of the management API the backup workflow needs.
// *Session implements it; tests substitute fakes.
type Appliance interface {
	CreateBackup(ctx context.Context) (*Result, error)
	DownloadBackup(ctx context.Context, remoteName string) ([]byte, error)
	RestoreBackup(ctx context.Context, fileName string, r io.Reader) (*Result, error)
}

var _ Appliance = (*Session)(nil)

// SystemInfo returns core/system/info.
func (s *Session) SystemInfo(ctx context.Context) (*Result, error) {
	return s.Call(ctx, Request{Method: http.MethodGet, Endpoint: EndpointSystemInfo})
}

// CreateBackup asks the appliance to generate a configuration backup. The
// answer names the generated file in its "filename" field.
func (s *Session) CreateBackup(ctx context.Context) (*Result, error) {
	return s.Call(ctx, Request{Method: http.MethodPost, Endpoint: EndpointBackupCreate})
}

// DownloadBackup fetches the raw bytes of a generated backup.
func (s *Session) DownloadBackup(ctx context.Context, remoteName string) ([]byte, error) {
	if remoteName == "" {
		return nil, fault.Configurationf("download: empty backup filename")
	}
	res, err := s.Call(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: EndpointBackupDownload + url.PathEscape(remoteName),
		Timeout:  s.timeouts.Download,
	})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// RestoreBackup uploads a configuration file to the restore endpoint.
func (s *Session) RestoreBackup(ctx context.Context, fileName string, r io.Reader) (*Result, error) {
	return s.Call(ctx, Request{
		Method:   http.MethodPost,
		Endpoint: EndpointBackupRestore,
		File: &FileAttachment{
			Field:       RestoreField,
			FileName:    fileName,
			ContentType: "application/xml",
			Body:        r,
		},
	})
}

// statusTopics maps read-only status queries to their endpoints.
var statusTopics = map[string]string{
	"aliases":    "firewall/alias/searchItem",
	"firmware":   "core/firmware/status",
	"gateways":   "routes/gateway/status",
	"interfaces": "interfaces/overview/interfacesInfo",
	"leases":     "dhcp/leases/searchLease",
	"rules":      "firewall/filter/searchRule",
	"system":     "core/system/status",
}

// StatusTopics lists the names accepted by Status, sorted.
func StatusTopics() []string {
	topics := make([]string, 0, len(statusTopics))
	for t := range statusTopics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Status runs one of the read-only status queries.
func (s *Session) Status(ctx context.Context, topic string) (*Result, error) {
	endpoint, ok := statusTopics[topic]
	if !ok {
		return nil, errors.WithHintf(
			fault.Configurationf("unknown status topic %q", topic),
			"valid topics: %v", StatusTopics(),
		)
	}
	return s.Call(ctx, Request{Method: http.MethodGet, Endpoint: endpoint})
}

// Ping asks the appliance to ping host count times.
func (s *Session) Ping(ctx context.Context, host string, count int) (*Result, error) {
	if host == "" {
		return nil, fault.Configurationf("ping: host is required")
	}
	if count <= 0 {
		count = 3
	}
	return s.Call(ctx, Request{
		Method:   http.MethodPost,
		Endpoint: EndpointPing,
		JSON:     map[string]any{"host": host, "count": count},
	})
}
