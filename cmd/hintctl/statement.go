package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/wbrown/janus-recycler/sqlhint/catalog"
	"github.com/wbrown/janus-recycler/sqlhint/executor"
	"github.com/wbrown/janus-recycler/sqlhint/propagator"
	"github.com/wbrown/janus-recycler/sqlhint/recycler"
	"gopkg.in/yaml.v3"
)

// statementFile is the YAML form of a statement: its source blocks, the
// blocks after rewriting, its join sites and the table generations they read
type statementFile struct {
	Blocks      []blockDef      `yaml:"blocks"`
	Final       []finalDef      `yaml:"final"`
	Joins       []joinDef       `yaml:"joins"`
	Generations map[string]int64 `yaml:"generations"`
}

type blockDef struct {
	Label      string `yaml:"label"`
	Shape      string `yaml:"shape"`
	Directives string `yaml:"directives"`
}

type finalDef struct {
	Label string `yaml:"label"`
	Shape string `yaml:"shape"`
}

type joinDef struct {
	Block     string         `yaml:"block"`
	Condition string         `yaml:"condition"`
	Relations []relationDef `yaml:"relations"`
	Device    string         `yaml:"device"`
	Item      string         `yaml:"item"`
}

type relationDef struct {
	Table string `yaml:"table"`
	Alias string `yaml:"alias"`
}

type joinRef struct {
	block  string
	plan   recycler.JoinPlan
	device recycler.DeviceID
	item   recycler.CacheItemType
}

type statement struct {
	source      propagator.Statement
	final       []propagator.FinalBlock
	joins       []joinRef
	generations map[catalog.TableKey]catalog.Generation
}

func loadStatement(path string) (*statement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading statement %q", path)
	}
	stmt, err := parseStatement(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading statement %q", path)
	}
	return stmt, nil
}

// shapeOf hashes a block's shape text, falling back to its label
func shapeOf(shape, label string) uint64 {
	if shape == "" {
		shape = label
	}
	return propagator.ShapeOf(shape)
}

func parseStatement(data []byte) (*statement, error) {
	var f statementFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decoding statement")
	}
	if len(f.Blocks) == 0 {
		return nil, errors.New("statement has no blocks")
	}

	stmt := &statement{generations: make(map[catalog.TableKey]catalog.Generation)}
	labels := make(map[string]bool)
	for i, b := range f.Blocks {
		if b.Label == "" {
			return nil, errors.Newf("block %d has no label", i)
		}
		stmt.source.Blocks = append(stmt.source.Blocks, propagator.SourceBlock{
			Label:      b.Label,
			Shape:      shapeOf(b.Shape, b.Label),
			Directives: b.Directives,
		})
		labels[b.Label] = true
	}

	if f.Final != nil {
		labels = make(map[string]bool)
		stmt.final = make([]propagator.FinalBlock, 0, len(f.Final))
		for _, fb := range f.Final {
			stmt.final = append(stmt.final, propagator.FinalBlock{Label: fb.Label, Shape: shapeOf(fb.Shape, fb.Label)})
			labels[fb.Label] = true
		}
	}

	for i, j := range f.Joins {
		if !labels[j.Block] {
			return nil, errors.Newf("join %d references unknown block %q", i, j.Block)
		}
		device, err := recycler.ParseDevice(j.Device)
		if err != nil {
			return nil, errors.Wrapf(err, "join %d", i)
		}
		item, err := recycler.ParseCacheItemType(j.Item)
		if err != nil {
			return nil, errors.Wrapf(err, "join %d", i)
		}

		ref := joinRef{block: j.Block, device: device, item: item, plan: recycler.JoinPlan{Condition: j.Condition}}
		for _, r := range j.Relations {
			key, err := catalog.ParseTableKey(r.Table)
			if err != nil {
				return nil, errors.Wrapf(err, "join %d", i)
			}
			ref.plan.Relations = append(ref.plan.Relations, recycler.Relation{Table: key, Alias: r.Alias})
		}
		stmt.joins = append(stmt.joins, ref)
	}

	for table, tuples := range f.Generations {
		key, err := catalog.ParseTableKey(table)
		if err != nil {
			return nil, errors.Wrap(err, "generations")
		}
		stmt.generations[key] = catalog.Generation{TupleCount: tuples}
	}

	return stmt, nil
}

// sites binds the statement's joins to the propagated blocks
func (s *statement) sites(h *propagator.Hints) ([]executor.JoinSite, error) {
	sites := make([]executor.JoinSite, 0, len(s.joins))
	for _, j := range s.joins {
		id, ok := h.Lookup(j.block)
		if !ok {
			return nil, errors.Newf("block %q not in the final plan", j.block)
		}
		sites = append(sites, executor.JoinSite{Block: id, Plan: j.plan, Device: j.device, Item: j.item})
	}
	return sites, nil
}
