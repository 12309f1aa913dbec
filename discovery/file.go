package discovery

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	pb "go.sqlcluster.dev/core/protocol"
	"gopkg.in/yaml.v2"
)

// FileSource reads Nodes from a file. Files having a ".yaml" or ".yml"
// extension hold a YAML list of Nodes:
//
//   - id: 1
//     address: 10.0.0.1:24000
//   - id: 2
//     address: 10.0.0.2:24000
//     role: standby
//
// Other files are read as one node address per line (such as an "ips.csv"),
// and nodes are assigned IDs 1, 2, 3... in file order. Blank lines and lines
// beginning with '#' are ignored.
type FileSource struct {
	Fs   afero.Fs
	Path string
}

// NewFileSource returns a FileSource of |path| on the OS filesystem.
func NewFileSource(path string) FileSource {
	return FileSource{Fs: afero.NewOsFs(), Path: path}
}

// Nodes reads and returns the Nodes of the file.
func (s FileSource) Nodes(context.Context) ([]pb.Node, error) {
	var b, err = afero.ReadFile(s.Fs, s.Path)
	if err != nil {
		return nil, errors.WithMessage(err, "reading nodes file")
	}

	var nodes []pb.Node
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		if err = yaml.UnmarshalStrict(b, &nodes); err != nil {
			return nil, errors.WithMessagef(err, "decoding %s", s.Path)
		}
	default:
		nodes = parseLines(b)
	}

	if err = validate(nodes); err != nil {
		return nil, errors.WithMessage(err, s.Path)
	}
	sortNodes(nodes)
	return nodes, nil
}

func parseLines(b []byte) []pb.Node {
	var nodes []pb.Node
	var scanner = bufio.NewScanner(bytes.NewReader(b))

	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Tolerate a trailing comma of CSV-ish files.
		line = strings.TrimSpace(strings.TrimSuffix(line, ","))
		nodes = append(nodes, pb.Node{ID: pb.NodeID(len(nodes) + 1), Address: line})
	}
	return nodes
}
