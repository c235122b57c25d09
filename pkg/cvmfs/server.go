package cvmfs

import (
	"fmt"
	"strings"
)

// ServerType is the role a server plays in the CVMFS distribution hierarchy.
type ServerType string

const (
	Stratum0   ServerType = "stratum0"
	Stratum1   ServerType = "stratum1"
	SyncServer ServerType = "syncserver"
)

// ParseServerType parses s case-insensitively.
func ParseServerType(s string) (ServerType, error) {
	switch t := ServerType(strings.ToLower(strings.TrimSpace(s))); t {
	case Stratum0, Stratum1, SyncServer:
		return t, nil
	}
	return "", fmt.Errorf("unknown server type %q (expected stratum0, stratum1 or syncserver)", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ServerType) UnmarshalText(text []byte) error {
	parsed, err := ParseServerType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// BackendType is the storage backend of a server. AutoDetect lets the
// scraper decide from whether a repository listing is published.
type BackendType string

const (
	BackendCVMFS      BackendType = "cvmfs"
	BackendS3         BackendType = "s3"
	BackendAutoDetect BackendType = "autodetect"
)

// ParseBackendType parses s case-insensitively. An empty string is AutoDetect.
func ParseBackendType(s string) (BackendType, error) {
	switch b := BackendType(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAutoDetect, nil
	case BackendCVMFS, BackendS3, BackendAutoDetect:
		return b, nil
	}
	return "", fmt.Errorf("unknown backend type %q (expected cvmfs, s3 or autodetect)", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *BackendType) UnmarshalText(text []byte) error {
	parsed, err := ParseBackendType(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ServerConfig identifies one server to scrape.
type ServerConfig struct {
	Type     ServerType  `json:"type" yaml:"type"`
	Backend  BackendType `json:"backend" yaml:"backend"`
	Hostname Hostname    `json:"hostname" yaml:"hostname"`
}

// NewServer builds a ServerConfig. An empty backend means AutoDetect.
func NewServer(typ ServerType, backend BackendType, hostname Hostname) ServerConfig {
	if backend == "" {
		backend = BackendAutoDetect
	}
	return ServerConfig{Type: typ, Backend: backend, Hostname: hostname}
}

// ParseServerSpec parses the compact "host[,type[,backend]]" form used on
// the command line. The type defaults to stratum1.
func ParseServerSpec(s string) (ServerConfig, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 3 {
		return ServerConfig{}, fmt.Errorf("server %q: expected host[,type[,backend]]", s)
	}

	host, err := ParseHostname(strings.TrimSpace(parts[0]))
	if err != nil {
		return ServerConfig{}, fmt.Errorf("server %q: %w", s, err)
	}
	typ := Stratum1
	if len(parts) > 1 {
		if typ, err = ParseServerType(parts[1]); err != nil {
			return ServerConfig{}, fmt.Errorf("server %q: %w", s, err)
		}
	}
	backend := BackendAutoDetect
	if len(parts) > 2 {
		if backend, err = ParseBackendType(parts[2]); err != nil {
			return ServerConfig{}, fmt.Errorf("server %q: %w", s, err)
		}
	}
	return NewServer(typ, backend, host), nil
}

func (c ServerConfig) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.Hostname, c.Type, c.Backend)
}

// EndpointFunc maps a hostname to the base URL its files are served under.
type EndpointFunc func(Hostname) string

// DefaultEndpoint serves every host over plain http on the default port, as
// CVMFS clients do.
func DefaultEndpoint(h Hostname) string {
	return "http://" + string(h)
}
