package ir

import (
	"fmt"
	"strings"
)

// DID is a namespace-qualified name, written "namespace:name".
type DID struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

func (d DID) String() string {
	return d.Namespace + ":" + d.Name
}

// ParseDID splits "ns:name". A bare name takes defaultNamespace; an empty
// namespace in the result means neither was given.
func ParseDID(s, defaultNamespace string) (DID, error) {
	ns, name, found := strings.Cut(s, ":")
	if !found {
		return DID{Namespace: defaultNamespace, Name: s}, nil
	}
	if name == "" {
		return DID{}, fmt.Errorf("invalid DID %q: empty name", s)
	}
	return DID{Namespace: ns, Name: name}, nil
}

// File is a catalog file record.
type File struct {
	FID              string         `json:"fid" yaml:"fid"`
	Namespace        string         `json:"namespace" yaml:"namespace"`
	Name             string         `json:"name" yaml:"name"`
	Size             int64          `json:"size" yaml:"size"`
	Creator          string         `json:"creator,omitempty" yaml:"creator,omitempty"`
	CreatedTimestamp int64          `json:"created_timestamp,omitempty" yaml:"created_timestamp,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DID returns the file's namespace:name.
func (f File) DID() DID {
	return DID{Namespace: f.Namespace, Name: f.Name}
}

// Column returns the value of a fixed file column.
func (f File) Column(name string) (any, bool) {
	switch name {
	case "fid":
		return f.FID, true
	case "namespace":
		return f.Namespace, true
	case "name":
		return f.Name, true
	case "size":
		return f.Size, true
	case "creator":
		return f.Creator, f.Creator != ""
	case "created_timestamp":
		return f.CreatedTimestamp, f.CreatedTimestamp != 0
	}
	return nil, false
}

// Meta returns the file's metadata map (possibly nil).
func (f File) Meta() map[string]any { return f.Metadata }

// WithoutMetadata returns a copy with Metadata cleared.
func (f File) WithoutMetadata() File {
	f.Metadata = nil
	return f
}

// FileColumns lists the columns addressable under the "file." scope.
var FileColumns = []string{"fid", "namespace", "name", "size", "creator", "created_timestamp"}

// Dataset is a named collection of files. Datasets form a forest through
// the optional parent link.
type Dataset struct {
	Namespace        string         `json:"namespace" yaml:"namespace"`
	Name             string         `json:"name" yaml:"name"`
	Parent           *DID           `json:"parent,omitempty" yaml:"parent,omitempty"`
	Frozen           bool           `json:"frozen" yaml:"frozen"`
	Monotonic        bool           `json:"monotonic" yaml:"monotonic"`
	Creator          string         `json:"creator,omitempty" yaml:"creator,omitempty"`
	CreatedTimestamp int64          `json:"created_timestamp,omitempty" yaml:"created_timestamp,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (d Dataset) DID() DID {
	return DID{Namespace: d.Namespace, Name: d.Name}
}

// Column returns the value of a fixed dataset column.
func (d Dataset) Column(name string) (any, bool) {
	switch name {
	case "namespace":
		return d.Namespace, true
	case "name":
		return d.Name, true
	case "frozen":
		return d.Frozen, true
	case "monotonic":
		return d.Monotonic, true
	case "creator":
		return d.Creator, d.Creator != ""
	case "created_timestamp":
		return d.CreatedTimestamp, d.CreatedTimestamp != 0
	}
	return nil, false
}

func (d Dataset) Meta() map[string]any { return d.Metadata }

// DatasetColumns lists the columns addressable under the "dataset." scope.
var DatasetColumns = []string{"namespace", "name", "frozen", "monotonic", "creator", "created_timestamp"}

// NamedQuery is a stored MQL text addressable as namespace:name.
// Params holds default parameter values.
type NamedQuery struct {
	Namespace string           `json:"namespace" yaml:"namespace"`
	Name      string           `json:"name" yaml:"name"`
	Source    string           `json:"source" yaml:"source"`
	Params    map[string]Value `json:"-" yaml:"-"`
}

func (q NamedQuery) DID() DID {
	return DID{Namespace: q.Namespace, Name: q.Name}
}

// Direction selects the side of a provenance edge.
type Direction int

const (
	// Parents walks from child files to their parents.
	Parents Direction = iota
	// Children walks from parent files to their children.
	Children
)

func (d Direction) String() string {
	if d == Children {
		return "children"
	}
	return "parents"
}
