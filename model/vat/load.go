package vat

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/ocap/internal/yml"
)

// LoadCluster reads a cluster config from URL (any afs-supported scheme) and
// decodes it as YAML or JSON depending on its extension.
func LoadCluster(ctx context.Context, fs afs.Service, URL string, options ...storage.Option) (*ClusterConfig, error) {
	data, err := fs.DownloadWithURL(ctx, URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster config from %s: %w", URL, err)
	}
	ret, err := DecodeCluster(path.Ext(URL), data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cluster config %s: %w", URL, err)
	}
	return ret, nil
}

// DecodeCluster decodes and validates a cluster config. Vats launch in the
// order the document declares them unless launchOrder is set explicitly.
func DecodeCluster(ext string, data []byte) (*ClusterConfig, error) {
	ret := &ClusterConfig{}
	var node *yml.Node
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if node, err = yml.Parse(data); err != nil {
			return nil, err
		}
		if err = node.Decode(ret); err != nil {
			return nil, err
		}
	case ".json", "":
		if err = json.Unmarshal(data, ret); err != nil {
			return nil, err
		}
		if node, err = yml.Parse(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported cluster config extension %q", ext)
	}
	if len(ret.LaunchOrder) == 0 {
		if ret.LaunchOrder, err = node.Lookup("vats").Keys(); err != nil {
			return nil, fmt.Errorf("invalid vats: %w", err)
		}
	}
	if err = ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
