package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// Fixture is a catalog described in YAML:
//
//	datasets:
//	  - did: test:raw
//	    metadata: {run_type: physics}
//	  - did: test:reco
//	    parent: test:raw
//	files:
//	  - did: test:f1.root
//	    size: 100
//	    datasets: [test:raw]
//	    metadata: {run: 7}
//	  - did: test:f1.reco
//	    datasets: [test:reco]
//	    parents: [test:f1.root]
//	queries:
//	  - did: test:physics
//	    source: files from raw where run_type = $kind
//	    params: {kind: physics}
type Fixture struct {
	Datasets []DatasetFixture `yaml:"datasets"`
	Files    []FileFixture    `yaml:"files"`
	Queries  []QueryFixture   `yaml:"queries"`
}

type DatasetFixture struct {
	DID              string         `yaml:"did"`
	Parent           string         `yaml:"parent,omitempty"`
	Frozen           bool           `yaml:"frozen,omitempty"`
	Monotonic        bool           `yaml:"monotonic,omitempty"`
	Creator          string         `yaml:"creator,omitempty"`
	CreatedTimestamp int64          `yaml:"created_timestamp,omitempty"`
	Metadata         map[string]any `yaml:"metadata,omitempty"`
}

type FileFixture struct {
	DID              string         `yaml:"did"`
	FID              string         `yaml:"fid,omitempty"`
	Size             int64          `yaml:"size,omitempty"`
	Creator          string         `yaml:"creator,omitempty"`
	CreatedTimestamp int64          `yaml:"created_timestamp,omitempty"`
	Datasets         []string       `yaml:"datasets,omitempty"`
	Parents          []string       `yaml:"parents,omitempty"`
	Metadata         map[string]any `yaml:"metadata,omitempty"`
}

type QueryFixture struct {
	DID    string         `yaml:"did"`
	Source string         `yaml:"source"`
	Params map[string]any `yaml:"params,omitempty"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fx, err := DecodeFixture(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fx, nil
}

// DecodeFixture reads a fixture from r. Unknown fields are errors.
func DecodeFixture(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fx Fixture
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &fx, nil
}

// Apply loads the fixture into l. Datasets may be listed before their
// parents; file parents are resolved after every file is added.
func (fx *Fixture) Apply(ctx context.Context, l Loader) error {
	datasets, err := fx.datasets()
	if err != nil {
		return err
	}
	for _, d := range datasets {
		if err := l.AddDataset(ctx, d); err != nil {
			return err
		}
	}

	fids := make(map[ir.DID]string, len(fx.Files))
	for _, ff := range fx.Files {
		did, err := parseDID(ff.DID)
		if err != nil {
			return err
		}
		members := make([]ir.DID, 0, len(ff.Datasets))
		for _, s := range ff.Datasets {
			d, err := parseDID(s)
			if err != nil {
				return err
			}
			members = append(members, d)
		}
		f, err := l.AddFile(ctx, ir.File{
			FID:              ff.FID,
			Namespace:        did.Namespace,
			Name:             did.Name,
			Size:             ff.Size,
			Creator:          ff.Creator,
			CreatedTimestamp: ff.CreatedTimestamp,
			Metadata:         ff.Metadata,
		}, members)
		if err != nil {
			return err
		}
		fids[did] = f.FID
	}
	for _, ff := range fx.Files {
		child, _ := parseDID(ff.DID)
		for _, s := range ff.Parents {
			p, err := parseDID(s)
			if err != nil {
				return err
			}
			parentFID, ok := fids[p]
			if !ok {
				return fmt.Errorf("file %s: parent %s is not in the fixture", child, p)
			}
			if err := l.AddProvenance(ctx, parentFID, fids[child]); err != nil {
				return err
			}
		}
	}

	for _, qf := range fx.Queries {
		q, err := qf.namedQuery()
		if err != nil {
			return err
		}
		if err := l.PutQuery(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// datasets converts the dataset entries, ordered so that every parent
// precedes its children.
func (fx *Fixture) datasets() ([]ir.Dataset, error) {
	pending := make([]ir.Dataset, 0, len(fx.Datasets))
	for _, df := range fx.Datasets {
		did, err := parseDID(df.DID)
		if err != nil {
			return nil, err
		}
		d := ir.Dataset{
			Namespace:        did.Namespace,
			Name:             did.Name,
			Frozen:           df.Frozen,
			Monotonic:        df.Monotonic,
			Creator:          df.Creator,
			CreatedTimestamp: df.CreatedTimestamp,
			Metadata:         df.Metadata,
		}
		if df.Parent != "" {
			p, err := parseDID(df.Parent)
			if err != nil {
				return nil, err
			}
			d.Parent = &p
		}
		pending = append(pending, d)
	}

	known := make(map[ir.DID]bool, len(pending))
	for _, d := range pending {
		known[d.DID()] = true
	}
	placed := make(map[ir.DID]bool, len(pending))
	out := make([]ir.Dataset, 0, len(pending))
	for len(pending) > 0 {
		var rest []ir.Dataset
		for _, d := range pending {
			if d.Parent == nil || placed[*d.Parent] || !known[*d.Parent] {
				out = append(out, d)
				placed[d.DID()] = true
				continue
			}
			rest = append(rest, d)
		}
		if len(rest) == len(pending) {
			return nil, fmt.Errorf("dataset %s: parent chain is cyclic", rest[0].DID())
		}
		pending = rest
	}
	return out, nil
}

func (qf QueryFixture) namedQuery() (ir.NamedQuery, error) {
	did, err := parseDID(qf.DID)
	if err != nil {
		return ir.NamedQuery{}, err
	}
	q := ir.NamedQuery{Namespace: did.Namespace, Name: did.Name, Source: qf.Source}
	if len(qf.Params) > 0 {
		q.Params = make(map[string]ir.Value, len(qf.Params))
		for k, v := range qf.Params {
			val, err := ir.FromNative(v)
			if err != nil {
				return ir.NamedQuery{}, fmt.Errorf("query %s: parameter %s: %w", did, k, err)
			}
			q.Params[k] = val
		}
	}
	return q, nil
}

func parseDID(s string) (ir.DID, error) {
	did, err := ir.ParseDID(s, "")
	if err != nil {
		return ir.DID{}, err
	}
	if did.Namespace == "" {
		return ir.DID{}, fmt.Errorf("%q: fixture names must be namespace:name", s)
	}
	return did, nil
}
