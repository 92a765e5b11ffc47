package extension

import (
	"plugin"
)

// Library is an opened module.
type Library interface {
	Lookup(name string) (any, error)
	Close() error
}

// Opener opens module files.
type Opener interface {
	Open(path string) (Library, error)
}

// PluginOpener opens Go plugins built with -buildmode=plugin.
type PluginOpener struct{}

// Open loads the plugin at path.
func (PluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return goPlugin{p}, nil
}

type goPlugin struct {
	p *plugin.Plugin
}

func (g goPlugin) Lookup(name string) (any, error) {
	return g.p.Lookup(name)
}

// Close is a no-op: the Go runtime cannot unload a plugin.
func (goPlugin) Close() error { return nil }
