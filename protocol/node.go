package protocol

import (
	"fmt"
	"net"
	"strings"
)

// NodeID is the unique, positive identifier of a cluster node.
type NodeID = uint64

// NodeRole is advisory metadata of a node's participation in the cluster's
// configuration. It is not authoritative for leadership.
type NodeRole uint8

const (
	// Voter nodes replicate the log and participate in quorum.
	Voter NodeRole = 0
	// StandBy nodes replicate the log, but do not participate in quorum.
	StandBy NodeRole = 1
	// Spare nodes neither replicate nor vote.
	Spare NodeRole = 2
)

func (r NodeRole) String() string {
	switch r {
	case Voter:
		return "voter"
	case StandBy:
		return "standby"
	case Spare:
		return "spare"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseNodeRole parses the string form of a NodeRole.
func ParseNodeRole(s string) (NodeRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voter", "":
		return Voter, nil
	case "standby", "stand-by":
		return StandBy, nil
	case "spare":
		return Spare, nil
	}
	return 0, NewValidationError("unknown role (%q)", s)
}

// UnmarshalYAML decodes a role from its string form.
func (r *NodeRole) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	var role, err = ParseNodeRole(s)
	*r = role
	return err
}

// MarshalYAML encodes a role as its string form.
func (r NodeRole) MarshalYAML() (interface{}, error) { return r.String(), nil }

// Node is a member of the cluster.
type Node struct {
	ID      NodeID   `yaml:"id"`
	Address string   `yaml:"address"`
	Role    NodeRole `yaml:"role"`
}

// Validate returns an error if the Node is not well-formed.
func (n Node) Validate() error {
	if n.ID == 0 {
		return NewValidationError("invalid ID (must be > 0)")
	} else if err := ValidateAddress(n.Address); err != nil {
		return ExtendContext(err, "Address")
	} else if n.Role > Spare {
		return NewValidationError("invalid Role (%d)", n.Role)
	}
	return nil
}

func (n Node) String() string {
	return fmt.Sprintf("%d@%s(%s)", n.ID, n.Address, n.Role)
}

// ValidateAddress ensures |addr| is a non-empty "host" or "host:port".
func ValidateAddress(addr string) error {
	if addr == "" {
		return NewValidationError("expected address")
	} else if strings.ContainsAny(addr, " \t\r\n/") {
		return NewValidationError("address contains invalid characters (%q)", addr)
	}
	if strings.Contains(addr, ":") && !strings.HasSuffix(addr, "]") {
		if host, port, err := net.SplitHostPort(addr); err != nil {
			// Might be a bare IPv6 literal.
			if net.ParseIP(addr) == nil {
				return NewValidationError("invalid address (%s): %s", addr, err)
			}
		} else if host == "" || port == "" {
			return NewValidationError("invalid address (%s): expected host and port", addr)
		}
	}
	return nil
}
