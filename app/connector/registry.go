package connector

type Registry struct {
	connectors map[System]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	items := make(map[System]Connector, len(connectors))
	for _, c := range connectors {
		if c == nil {
			continue
		}
		items[c.System()] = c
	}
	return &Registry{connectors: items}
}

func (r *Registry) Get(system System) (Connector, error) {
	c, ok := r.connectors[system]
	if !ok {
		return nil, ErrSystemNotRegistered
	}
	return c, nil
}
