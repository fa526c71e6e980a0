// Package registry implements the plugin graph: typed access points wired
// together at load time from a declarative configuration, with support
// for cycles via weak back-references. Construction of each node is
// cycle-tolerant: a node's weak handle is published before its body is
// built, so a neighbor constructed during that body can resolve back to
// it. Strong ownership of every node lives solely in FullyConstructed;
// everything else is a weak handle that must be upgraded before use and
// degrades gracefully to a sentinel when it can't.
package registry

import (
	"fmt"
	"weak"

	"github.com/flowproxy/core/flow"
)

// AccessPointType identifies which of the four typed access points a
// Descriptor refers to.
type AccessPointType int

const (
	StreamHandlerType AccessPointType = iota
	DatagramSessionHandlerType
	StreamOutboundFactoryType
	DatagramSessionFactoryType
)

func (t AccessPointType) String() string {
	switch t {
	case StreamHandlerType:
		return "StreamHandler"
	case DatagramSessionHandlerType:
		return "DatagramSessionHandler"
	case StreamOutboundFactoryType:
		return "StreamOutboundFactory"
	case DatagramSessionFactoryType:
		return "DatagramSessionFactory"
	default:
		return fmt.Sprintf("AccessPointType(%d)", int(t))
	}
}

// Descriptor is a named, typed reference to an access point.
type Descriptor struct {
	Name string
	Type AccessPointType
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s:%s", d.Name, d.Type)
}

// Plugin is a named configuration record: a factory kind selects how
// Param (an opaque byte payload, format left to the factory) is decoded.
type Plugin struct {
	Name    string
	Kind    string
	Version int
	Param   []byte
}

// ErrUnresolvedDescriptor is recorded when a required descriptor name is
// not provided by any configured plugin.
type ErrUnresolvedDescriptor struct {
	Descriptor string
}

func (e *ErrUnresolvedDescriptor) Error() string {
	return fmt.Sprintf("registry: unresolved descriptor %q", e.Descriptor)
}

// ErrTypeMismatch is recorded when a descriptor resolves to a plugin that
// provides it under a different AccessPointType.
type ErrTypeMismatch struct {
	Descriptor string
	Want, Got  AccessPointType
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("registry: descriptor %q: want %s, got %s", e.Descriptor, e.Want, e.Got)
}

// ErrConfigParse is recorded when a plugin's Param cannot be decoded by
// its factory.
type ErrConfigParse struct {
	Plugin string
	Err    error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("registry: plugin %q: invalid param: %s", e.Plugin, e.Err)
}

func (e *ErrConfigParse) Unwrap() error { return e.Err }

// Builder runs the construction body of a parsed plugin: step 3 of the
// cycle-safe construction contract. It may call PartialPluginSet's
// GetOrCreate* methods to resolve descriptors it requires, including
// descriptors that resolve back to itself.
type Builder func(pluginName string, set *PartialPluginSet) error

// ParsedPlugin is the result of a Factory decoding a Plugin's Param: the
// descriptors it requires and provides, and the builder that constructs
// its runtime node.
type ParsedPlugin struct {
	Requires []Descriptor
	Provides []Descriptor
	Build    Builder
}

// Factory decodes a Plugin's opaque Param into requires/provides
// descriptors and a construction Builder. Exactly one Factory exists per
// plugin Kind.
type Factory interface {
	Parse(p *Plugin) (ParsedPlugin, error)
}

type streamHandlerBox struct{ v flow.StreamHandler }
type datagramHandlerBox struct{ v flow.DatagramSessionHandler }
type streamOutboundBox struct{ v flow.StreamOutboundFactory }
type datagramOutboundBox struct{ v flow.DatagramSessionFactory }

// StreamHandlerHandle is a weak reference to a StreamHandler node.
type StreamHandlerHandle struct{ ptr weak.Pointer[streamHandlerBox] }

// Upgrade resolves the handle to a strong reference, or false if the
// owning node has been released.
func (h StreamHandlerHandle) Upgrade() (flow.StreamHandler, bool) {
	if b := h.ptr.Value(); b != nil {
		return b.v, true
	}
	return nil, false
}

// DatagramHandlerHandle is a weak reference to a DatagramSessionHandler node.
type DatagramHandlerHandle struct{ ptr weak.Pointer[datagramHandlerBox] }

func (h DatagramHandlerHandle) Upgrade() (flow.DatagramSessionHandler, bool) {
	if b := h.ptr.Value(); b != nil {
		return b.v, true
	}
	return nil, false
}

// StreamOutboundHandle is a weak reference to a StreamOutboundFactory node.
type StreamOutboundHandle struct{ ptr weak.Pointer[streamOutboundBox] }

func (h StreamOutboundHandle) Upgrade() (flow.StreamOutboundFactory, bool) {
	if b := h.ptr.Value(); b != nil {
		return b.v, true
	}
	return nil, false
}

// DatagramOutboundHandle is a weak reference to a DatagramSessionFactory node.
type DatagramOutboundHandle struct{ ptr weak.Pointer[datagramOutboundBox] }

func (h DatagramOutboundHandle) Upgrade() (flow.DatagramSessionFactory, bool) {
	if b := h.ptr.Value(); b != nil {
		return b.v, true
	}
	return nil, false
}

// FullyConstructed is the single owning container of every node's strong
// reference. When it is dropped (goes out of scope / becomes
// unreachable), every weak handle in the graph eventually fails its
// Upgrade, and handlers holding them gracefully no-op.
type FullyConstructed struct {
	StreamHandlers    map[string]*streamHandlerBox
	DatagramHandlers  map[string]*datagramHandlerBox
	StreamOutbounds   map[string]*streamOutboundBox
	DatagramOutbounds map[string]*datagramOutboundBox
}

func newFullyConstructed() FullyConstructed {
	return FullyConstructed{
		StreamHandlers:    make(map[string]*streamHandlerBox),
		DatagramHandlers:  make(map[string]*datagramHandlerBox),
		StreamOutbounds:   make(map[string]*streamOutboundBox),
		DatagramOutbounds: make(map[string]*datagramOutboundBox),
	}
}

// PartialPluginSet is the transient, build-time registry: four mappings
// keyed by descriptor name to weak handles, plus the FullyConstructed
// strong-owner store and an accumulated error list. Load builds every
// node; after Load returns, GetOrCreate* lookups build nothing new, but a
// lookup that cannot be resolved still appends its error to Errors.
type PartialPluginSet struct {
	streamHandlers    map[string]StreamHandlerHandle
	datagramHandlers  map[string]DatagramHandlerHandle
	streamOutbounds   map[string]StreamOutboundHandle
	datagramOutbounds map[string]DatagramOutboundHandle

	FullyConstructed FullyConstructed
	Errors           []error

	provides map[string]Descriptor // descriptor name -> owning plugin's descriptor
	owner    map[string]string     // descriptor name -> owning plugin name
	parsed   map[string]ParsedPlugin
	building map[string]bool // cycle/in-progress marker, for diagnostics only
}

func newPartialPluginSet() *PartialPluginSet {
	return &PartialPluginSet{
		streamHandlers:    make(map[string]StreamHandlerHandle),
		datagramHandlers:  make(map[string]DatagramHandlerHandle),
		streamOutbounds:   make(map[string]StreamOutboundHandle),
		datagramOutbounds: make(map[string]DatagramOutboundHandle),
		FullyConstructed:  newFullyConstructed(),
		provides:          make(map[string]Descriptor),
		owner:             make(map[string]string),
		parsed:            make(map[string]ParsedPlugin),
		building:          make(map[string]bool),
	}
}

// PublishStreamHandler performs steps 1-2 of the construction contract for
// a node that provides a StreamHandler: it allocates the node's identity
// and publishes its weak handle before the caller builds the node's body.
// The returned commit func performs step 4 once the body is built.
func (s *PartialPluginSet) PublishStreamHandler(name string) (commit func(flow.StreamHandler)) {
	box := &streamHandlerBox{}
	s.streamHandlers[name] = StreamHandlerHandle{ptr: weak.Make(box)}
	return func(v flow.StreamHandler) {
		box.v = v
		s.FullyConstructed.StreamHandlers[name] = box
	}
}

// PublishDatagramHandler is PublishStreamHandler for DatagramSessionHandler nodes.
func (s *PartialPluginSet) PublishDatagramHandler(name string) (commit func(flow.DatagramSessionHandler)) {
	box := &datagramHandlerBox{}
	s.datagramHandlers[name] = DatagramHandlerHandle{ptr: weak.Make(box)}
	return func(v flow.DatagramSessionHandler) {
		box.v = v
		s.FullyConstructed.DatagramHandlers[name] = box
	}
}

// PublishStreamOutbound is PublishStreamHandler for StreamOutboundFactory nodes.
func (s *PartialPluginSet) PublishStreamOutbound(name string) (commit func(flow.StreamOutboundFactory)) {
	box := &streamOutboundBox{}
	s.streamOutbounds[name] = StreamOutboundHandle{ptr: weak.Make(box)}
	return func(v flow.StreamOutboundFactory) {
		box.v = v
		s.FullyConstructed.StreamOutbounds[name] = box
	}
}

// PublishDatagramOutbound is PublishStreamHandler for DatagramSessionFactory nodes.
func (s *PartialPluginSet) PublishDatagramOutbound(name string) (commit func(flow.DatagramSessionFactory)) {
	box := &datagramOutboundBox{}
	s.datagramOutbounds[name] = DatagramOutboundHandle{ptr: weak.Make(box)}
	return func(v flow.DatagramSessionFactory) {
		box.v = v
		s.FullyConstructed.DatagramOutbounds[name] = box
	}
}

// GetOrCreateStreamHandler resolves name to a StreamHandlerHandle,
// constructing the owning plugin lazily if necessary. On failure it
// records the error in s.Errors and returns a handle to the reject
// sentinel, never an error the caller must check.
func (s *PartialPluginSet) GetOrCreateStreamHandler(parent, name string) StreamHandlerHandle {
	if h, ok := s.streamHandlers[name]; ok {
		return h
	}
	if !s.ensureBuilt(name, StreamHandlerType) {
		return StreamHandlerHandle{ptr: weak.Make(rejectStreamHandlerBox)}
	}
	if h, ok := s.streamHandlers[name]; ok {
		return h
	}
	s.recordError(&ErrTypeMismatch{Descriptor: name, Want: StreamHandlerType, Got: s.actualType(name)})
	return StreamHandlerHandle{ptr: weak.Make(rejectStreamHandlerBox)}
}

// GetOrCreateDatagramHandler is GetOrCreateStreamHandler for DatagramSessionHandler.
func (s *PartialPluginSet) GetOrCreateDatagramHandler(parent, name string) DatagramHandlerHandle {
	if h, ok := s.datagramHandlers[name]; ok {
		return h
	}
	if !s.ensureBuilt(name, DatagramSessionHandlerType) {
		return DatagramHandlerHandle{ptr: weak.Make(rejectDatagramHandlerBox)}
	}
	if h, ok := s.datagramHandlers[name]; ok {
		return h
	}
	s.recordError(&ErrTypeMismatch{Descriptor: name, Want: DatagramSessionHandlerType, Got: s.actualType(name)})
	return DatagramHandlerHandle{ptr: weak.Make(rejectDatagramHandlerBox)}
}

// GetOrCreateStreamOutbound is GetOrCreateStreamHandler for StreamOutboundFactory.
func (s *PartialPluginSet) GetOrCreateStreamOutbound(parent, name string) StreamOutboundHandle {
	if h, ok := s.streamOutbounds[name]; ok {
		return h
	}
	if !s.ensureBuilt(name, StreamOutboundFactoryType) {
		return StreamOutboundHandle{ptr: weak.Make(nullStreamOutboundBox)}
	}
	if h, ok := s.streamOutbounds[name]; ok {
		return h
	}
	s.recordError(&ErrTypeMismatch{Descriptor: name, Want: StreamOutboundFactoryType, Got: s.actualType(name)})
	return StreamOutboundHandle{ptr: weak.Make(nullStreamOutboundBox)}
}

// GetOrCreateDatagramOutbound is GetOrCreateStreamHandler for DatagramSessionFactory.
func (s *PartialPluginSet) GetOrCreateDatagramOutbound(parent, name string) DatagramOutboundHandle {
	if h, ok := s.datagramOutbounds[name]; ok {
		return h
	}
	if !s.ensureBuilt(name, DatagramSessionFactoryType) {
		return DatagramOutboundHandle{ptr: weak.Make(nullDatagramOutboundBox)}
	}
	if h, ok := s.datagramOutbounds[name]; ok {
		return h
	}
	s.recordError(&ErrTypeMismatch{Descriptor: name, Want: DatagramSessionFactoryType, Got: s.actualType(name)})
	return DatagramOutboundHandle{ptr: weak.Make(nullDatagramOutboundBox)}
}

// ensureBuilt triggers the owning plugin's Builder if name is a known
// descriptor not yet published. Returns false (and records the error) if
// name is not provided by any plugin at all.
func (s *PartialPluginSet) ensureBuilt(name string, want AccessPointType) bool {
	desc, ok := s.provides[name]
	if !ok {
		s.recordError(&ErrUnresolvedDescriptor{Descriptor: name})
		return false
	}
	if desc.Type != want {
		// Let the caller's re-check after a no-op build report the mismatch
		// with the right "got" type.
		return true
	}
	owner := s.owner[name]
	if s.building[owner] {
		// Cycle: the owner is already under construction; whatever it has
		// published so far (possibly nothing yet for this name) is all we
		// can offer. The caller's post-check handles the "not found" case.
		return true
	}
	parsed, ok := s.parsed[owner]
	if !ok {
		return true
	}
	s.building[owner] = true
	if err := parsed.Build(owner, s); err != nil {
		s.recordError(err)
	}
	delete(s.building, owner)
	delete(s.parsed, owner) // idempotent: never rebuild
	return true
}

func (s *PartialPluginSet) actualType(name string) AccessPointType {
	if d, ok := s.provides[name]; ok {
		return d.Type
	}
	return -1
}

func (s *PartialPluginSet) recordError(err error) {
	s.Errors = append(s.Errors, err)
}

// Load constructs every configured plugin from its Plugin record and
// Factory, returning the resulting PartialPluginSet and the full list of
// accumulated errors. Load never short-circuits on the first error: every
// configured plugin is attempted so configuration authors see every
// problem at once.
func Load(cfgs []*Plugin, factories map[string]Factory) (*PartialPluginSet, []error) {
	set := newPartialPluginSet()

	for _, cfg := range cfgs {
		factory, ok := factories[cfg.Kind]
		if !ok {
			set.recordError(&ErrConfigParse{Plugin: cfg.Name, Err: fmt.Errorf("unknown plugin kind %q", cfg.Kind)})
			continue
		}
		parsed, err := factory.Parse(cfg)
		if err != nil {
			set.recordError(&ErrConfigParse{Plugin: cfg.Name, Err: err})
			continue
		}
		set.parsed[cfg.Name] = parsed
		for _, d := range parsed.Provides {
			set.provides[d.Name] = d
			set.owner[d.Name] = cfg.Name
		}
	}

	// Construct every plugin, even ones nothing currently requires: "all
	// plugin nodes are constructed during a single load phase."
	for _, cfg := range cfgs {
		parsed, ok := set.parsed[cfg.Name]
		if !ok {
			continue // failed to parse, already recorded
		}
		if len(parsed.Provides) == 0 {
			// Nothing can request this plugin by name, so build it here.
			if err := parsed.Build(cfg.Name, set); err != nil {
				set.recordError(err)
			}
			delete(set.parsed, cfg.Name)
			continue
		}
		set.ensureBuilt(parsed.Provides[0].Name, parsed.Provides[0].Type)
	}

	return set, set.Errors
}
