// Package cloudinit builds NoCloud seed volumes for VMs started with
// cloud-init enabled.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vmlab/vml/internal/mount"
)

var ErrInvalidConfig = errors.New("invalid cloud-init configuration")

// mountScriptPath is where the share mount script is written in the guest.
const mountScriptPath = "/usr/local/sbin/vml-mount-shares"

// Config is what the seed volume needs to know about a VM.
type Config struct {
	// Name is the VM name; it seeds a stable instance-id.
	Name string
	// Hostname may be a FQDN; the short name is its first label.
	Hostname string
	// InstanceID overrides the name derived instance-id.
	InstanceID string
	// User receives AuthorizedKeys. Root is enabled for ssh when User is root.
	User           string
	AuthorizedKeys []string
	Shares         []mount.Share
	Network        *Network
}

// Network is a single guest interface. An empty Address means DHCP.
type Network struct {
	MAC         string
	Address     string // CIDR
	Gateway     string
	Nameservers []string
}

// UserData is the cloud-config document, marshaled with a "#cloud-config" header.
type UserData struct {
	Hostname          string      `yaml:"hostname"`
	FQDN              string      `yaml:"fqdn"`
	DisableRoot       bool        `yaml:"disable_root"`
	SSHPasswordAuth   bool        `yaml:"ssh_pwauth"`
	SSHAuthorizedKeys []string    `yaml:"ssh_authorized_keys,omitempty"`
	Users             []any       `yaml:"users,omitempty"`
	WriteFiles        []WriteFile `yaml:"write_files,omitempty"`
	RunCmd            [][]string  `yaml:"runcmd,omitempty"`
	Output            *Output     `yaml:"output,omitempty"`
}

// User is a cloud-init users entry.
type User struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

// WriteFile is a cloud-init write_files entry.
type WriteFile struct {
	Path        string `yaml:"path"`
	Permissions string `yaml:"permissions"`
	Content     string `yaml:"content"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData is the NoCloud meta-data document.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig is a netplan v2 network configuration.
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig configures one interface.
type EthernetConfig struct {
	Match       MatchConfig   `yaml:"match"`
	DHCP4       bool          `yaml:"dhcp4,omitempty"`
	Addresses   []string      `yaml:"addresses,omitempty"`
	Routes      []RouteConfig `yaml:"routes,omitempty"`
	Nameservers *Nameservers  `yaml:"nameservers,omitempty"`
}

// MatchConfig matches an interface by MAC address or name glob.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress,omitempty"`
	Name       string `yaml:"name,omitempty"`
}

// RouteConfig is a static route.
type RouteConfig struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

// Nameservers configures DNS.
type Nameservers struct {
	Addresses []string `yaml:"addresses"`
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("%w: configuration cannot be nil", ErrInvalidConfig)
	}
	if c.Name == "" && c.Hostname == "" {
		return fmt.Errorf("%w: a name or hostname is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) hostnames() (hostname, fqdn string) {
	fqdn = c.Hostname
	if fqdn == "" {
		fqdn = strings.ReplaceAll(c.Name, "/", "-")
	}
	return strings.SplitN(fqdn, ".", 2)[0], fqdn
}

// InstanceIDFor returns the instance-id used for the VM called name. It is
// stable across restarts so cloud-init only runs per-instance modules once.
func InstanceIDFor(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("vml:"+name)).String()
}

// GenerateUserData generates the user-data content including the "#cloud-config" header.
func GenerateUserData(cfg *Config) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	hostname, fqdn := cfg.hostnames()
	userData := UserData{
		Hostname: hostname,
		FQDN:     fqdn,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	switch cfg.User {
	case "", "root":
		userData.DisableRoot = false
		userData.SSHAuthorizedKeys = cfg.AuthorizedKeys
	default:
		userData.DisableRoot = true
		userData.Users = []any{"default", User{
			Name:              cfg.User,
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Shell:             "/bin/sh",
			SSHAuthorizedKeys: cfg.AuthorizedKeys,
		}}
	}

	if len(cfg.Shares) > 0 {
		userData.WriteFiles = []WriteFile{{
			Path:        mountScriptPath,
			Permissions: "0755",
			Content:     mount.MountScript(cfg.Shares),
		}}
		userData.RunCmd = [][]string{{mountScriptPath}}
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data content.
func GenerateMetaData(cfg *Config) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	hostname, _ := cfg.hostnames()
	id := cfg.InstanceID
	if id == "" {
		id = InstanceIDFor(cfg.Name)
	}

	yamlBytes, err := yaml.Marshal(&MetaData{InstanceID: id, LocalHostname: hostname})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates a netplan v2 network-config. Without a
// network, or without a static address, every ethernet interface uses DHCP.
func GenerateNetworkConfig(cfg *Config) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	eth := EthernetConfig{Match: MatchConfig{Name: "e*"}, DHCP4: true}

	if n := cfg.Network; n != nil {
		if n.MAC != "" {
			eth.Match = MatchConfig{MACAddress: n.MAC}
		}
		if n.Address != "" {
			eth.DHCP4 = false
			eth.Addresses = []string{n.Address}
			if n.Gateway != "" {
				eth.Routes = []RouteConfig{{To: "0.0.0.0/0", Via: n.Gateway}}
			}
		}
		if len(n.Nameservers) > 0 {
			eth.Nameservers = &Nameservers{Addresses: n.Nameservers}
		}
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: map[string]EthernetConfig{"eth0": eth},
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
