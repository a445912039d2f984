// Package recycler caches join hash tables across queries. Tables are keyed
// by a fingerprint of the join plan, the device that holds them and the
// effective shape parameters; identical plans reuse a previously built table.
package recycler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/catalog"
)

// QueryPlanHash fingerprints a join plan
type QueryPlanHash uint64

func (h QueryPlanHash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// DeviceID identifies the device holding a hash table. GPUs are numbered
// from 1.
type DeviceID int

const CPU DeviceID = 0

func (d DeviceID) String() string {
	if d == CPU {
		return "cpu"
	}
	return fmt.Sprintf("gpu%d", int(d))
}

// ParseDevice parses "cpu" or "gpuN" with N >= 1
func ParseDevice(s string) (DeviceID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "cpu" {
		return CPU, nil
	}
	if n, ok := strings.CutPrefix(s, "gpu"); ok {
		id, err := strconv.Atoi(n)
		if err == nil && id >= 1 {
			return DeviceID(id), nil
		}
	}
	return CPU, errors.Newf("unknown device %q", s)
}

// CacheItemType is the kind of cached artifact
type CacheItemType uint8

const (
	OverlapsHashTable CacheItemType = iota
	PerfectHashTable
	BaselineHashTable
)

func (t CacheItemType) String() string {
	switch t {
	case OverlapsHashTable:
		return "overlaps_hashtable"
	case PerfectHashTable:
		return "perfect_hashtable"
	case BaselineHashTable:
		return "baseline_hashtable"
	default:
		return fmt.Sprintf("item(%d)", uint8(t))
	}
}

// ParseCacheItemType parses an item type name; the "_hashtable" suffix is
// optional
func ParseCacheItemType(s string) (CacheItemType, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_hashtable")
	switch name {
	case "", "overlaps":
		return OverlapsHashTable, nil
	case "perfect":
		return PerfectHashTable, nil
	case "baseline":
		return BaselineHashTable, nil
	}
	return OverlapsHashTable, errors.Newf("unknown cache item type %q", s)
}

// Relation is one input of a join
type Relation struct {
	Table catalog.TableKey
	Alias string
}

// JoinPlan is the part of a join that determines its hash table
type JoinPlan struct {
	Condition string
	Relations []Relation
}

// Key addresses one cache entry
type Key struct {
	Hash   QueryPlanHash
	Device DeviceID
	Item   CacheItemType
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Item, k.Device, k.Hash)
}

// ShapeParams are the effective overlaps join parameters. A zero field is
// unset and leaves the choice to the build heuristic.
type ShapeParams struct {
	BucketThreshold float64
	MaxSize         int64
	KeysPerBin      float64
}

// Policy controls caching and device choice without affecting the key
type Policy struct {
	NoCache       bool
	AllowGPUBuild bool
}

// Fingerprint is everything the key builder derives for one join site
type Fingerprint struct {
	Key    Key
	Params ShapeParams
	Policy Policy
}

// KeyBuilder fingerprints join plans
type KeyBuilder struct {
	gens catalog.Generations
}

// NewKeyBuilder creates a key builder reading table generations from gens.
// A nil registry treats every table as generation zero.
func NewKeyBuilder(gens catalog.Generations) *KeyBuilder {
	return &KeyBuilder{gens: gens}
}

// Build derives the cache key, shape parameters and policy of a join site
// from its plan and the block's local and the statement's global hints.
// Local hints take precedence over global ones.
func (b *KeyBuilder) Build(plan JoinPlan, device DeviceID, item CacheItemType, local, global *sqlhint.Set) (Fingerprint, error) {
	hints := sqlhint.Merge(local, global)

	fp := Fingerprint{
		Policy: Policy{
			NoCache:       hints.IsRegistered(sqlhint.OverlapsNoCache),
			AllowGPUBuild: hints.IsRegistered(sqlhint.OverlapsAllowGPUBuild),
		},
	}
	if item == OverlapsHashTable {
		fp.Params.BucketThreshold, _ = hints.OverlapsBucketThreshold()
		fp.Params.MaxSize, _ = hints.OverlapsMaxSize()
		fp.Params.KeysPerBin, _ = hints.OverlapsKeysPerBin()
	}

	fp.Key.Device = foldDevice(device, item, hints)
	fp.Key.Item = item

	hash, err := b.hash(plan, fp.Key.Device, item, fp.Params)
	if err != nil {
		return Fingerprint{}, err
	}
	fp.Key.Hash = hash
	return fp, nil
}

// foldDevice moves builds to the CPU when the hints require it
func foldDevice(device DeviceID, item CacheItemType, hints *sqlhint.Set) DeviceID {
	if hints.IsRegistered(sqlhint.CPUMode) {
		return CPU
	}
	if item == OverlapsHashTable && device != CPU && !hints.IsRegistered(sqlhint.OverlapsAllowGPUBuild) {
		return CPU
	}
	return device
}

func (b *KeyBuilder) hash(plan JoinPlan, device DeviceID, item CacheItemType, params ShapeParams) (QueryPlanHash, error) {
	h := xxhash.New()

	fmt.Fprintf(h, "COND:%s;", CanonicalCondition(plan.Condition))

	rels := make([]Relation, len(plan.Relations))
	copy(rels, plan.Relations)
	sort.SliceStable(rels, func(i, j int) bool { return rels[i].Table.Less(rels[j].Table) })

	fmt.Fprintf(h, "RELS:")
	for _, r := range rels {
		var gen catalog.Generation
		if b.gens != nil {
			var err error
			if gen, err = b.gens.Generation(r.Table); err != nil {
				return 0, err
			}
		}
		fmt.Fprintf(h, "%s@%d+%d;", r.Table, gen.TupleCount, gen.StartRowID)
	}

	fmt.Fprintf(h, "DEVICE:%d;ITEM:%d;", int(device), uint8(item))

	if params.BucketThreshold != 0 {
		fmt.Fprintf(h, "BUCKET:%s;", strconv.FormatFloat(params.BucketThreshold, 'g', -1, 64))
	}
	if params.MaxSize != 0 {
		fmt.Fprintf(h, "MAXSIZE:%d;", params.MaxSize)
	}
	if params.KeysPerBin != 0 {
		fmt.Fprintf(h, "KPB:%s;", strconv.FormatFloat(params.KeysPerBin, 'g', -1, 64))
	}

	return QueryPlanHash(h.Sum64()), nil
}

// CanonicalCondition lowercases a join condition and collapses its whitespace
func CanonicalCondition(cond string) string {
	return strings.Join(strings.Fields(strings.ToLower(cond)), " ")
}
