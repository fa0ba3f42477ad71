package cluster

import "github.com/bbcarchdev/libcluster/types"

// SetData associates value with name across the whole cluster scope.
// Available while joined to a backend with a data store (the SQL backend);
// otherwise returns ErrNotSupported.
func (c *Cluster) SetData(name, value string) error {
	store := c.dataStore()
	if store == nil {
		return ErrNotSupported
	}

	ctx, cancel := c.opContext(c.cfg.OperationTimeout)
	defer cancel()

	return store.SetClusterData(ctx, name, value)
}

// Data returns the value associated with name for the cluster scope.
func (c *Cluster) Data(name string) (string, error) {
	store := c.dataStore()
	if store == nil {
		return "", ErrNotSupported
	}

	ctx, cancel := c.opContext(c.cfg.OperationTimeout)
	defer cancel()

	return store.ClusterData(ctx, name)
}

// SetNodeData associates value with name for this node only.
func (c *Cluster) SetNodeData(name, value string) error {
	store := c.dataStore()
	if store == nil {
		return ErrNotSupported
	}

	ctx, cancel := c.opContext(c.cfg.OperationTimeout)
	defer cancel()

	return store.SetNodeData(ctx, name, value)
}

// NodeData returns the value associated with name for this node.
func (c *Cluster) NodeData(name string) (string, error) {
	store := c.dataStore()
	if store == nil {
		return "", ErrNotSupported
	}

	ctx, cancel := c.opContext(c.cfg.OperationTimeout)
	defer cancel()

	return store.NodeData(ctx, name)
}

func (c *Cluster) dataStore() types.DataStore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.data
}
