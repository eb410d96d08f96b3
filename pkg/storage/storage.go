package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default field names carried by every record.
const (
	DefaultIDField       = "id"
	DefaultModifiedField = "last_modified"
	DefaultDeletedField  = "deleted"
)

// Scope meta tags attached to records materialized across scopes, so that
// DeleteAll can route each record back to its owning scope.
const (
	metaResourceField = "__resource_name__"
	metaParentField   = "__parent_id__"
)

// IDGenerator produces identifiers for records created without one.
type IDGenerator func() string

// Options configures a Store. Zero values fall back to the documented
// defaults (id / last_modified / deleted, UUID generator, read-write).
type Options struct {
	IDField          string
	ModifiedField    string
	DeletedField     string
	PreserveOnDelete []string
	ReadOnly         bool
	IDGenerator      IDGenerator
}

// Store implements the object store contract on top of a redis client:
// per-scope monotonic timestamps, soft-delete tombstones and in-memory
// filtering/sorting/pagination over materialized record sets.
//
// Records sorting and filtering are performed in memory, so this backend is
// suited to low server load, not large collections.
type Store struct {
	client redis.UniversalClient
	opts   Options
}

// Query bundles the list/count/delete-all selection parameters.
type Query struct {
	Filters         []Filter
	Sorting         []Sort
	PaginationRules [][]Filter
	Limit           int
	IncludeDeleted  bool
}

// New creates a Store. opts may be nil.
func New(client redis.UniversalClient, opts *Options) *Store {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.IDField == "" {
		o.IDField = DefaultIDField
	}
	if o.ModifiedField == "" {
		o.ModifiedField = DefaultModifiedField
	}
	if o.DeletedField == "" {
		o.DeletedField = DefaultDeletedField
	}
	if o.IDGenerator == nil {
		o.IDGenerator = func() string { return uuid.New().String() }
	}
	return &Store{client: client, opts: o}
}

// Flush wipes the whole database. Test/reset only.
func (s *Store) Flush(ctx context.Context) error {
	return wrapBackendError(ctx, "flush", s.client.FlushDB(ctx).Err())
}

// CollectionTimestamp returns the current scope counter, lazily
// initializing it to "now" on first read. Initialization is refused on a
// read-only store.
func (s *Store) CollectionTimestamp(ctx context.Context, resource, parent string) (int64, error) {
	val, err := s.client.Get(ctx, timestampKey(resource, parent)).Result()
	if err == nil {
		ts, perr := strconv.ParseInt(val, 10, 64)
		if perr != nil {
			return 0, wrapBackendError(ctx, "collection timestamp", perr)
		}
		return ts, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, wrapBackendError(ctx, "collection timestamp", err)
	}
	if s.opts.ReadOnly {
		return 0, &BackendError{
			Message: "cannot initialize empty collection timestamp when running in readonly",
		}
	}
	return s.BumpAndStoreTimestamp(ctx, resource, parent, nil, nil)
}

// BumpAndStoreTimestamp advances the scope counter and returns the value
// assigned to the record being written. The read-compute-write cycle runs
// under an optimistic watch on the counter key and restarts whenever a
// concurrent writer got there first, so the counter is strictly
// monotonic even under rapid successive writes within one millisecond.
func (s *Store) BumpAndStoreTimestamp(ctx context.Context, resource, parent string,
	record Record, lastModified *int64) (int64, error) {

	key := timestampKey(resource, parent)
	var assigned int64
	for {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			assigned = s.nextTimestamp(current, record, lastModified)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, assigned, 0)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Counter moved under us, retry the whole cycle.
			continue
		}
		if err != nil {
			return 0, wrapBackendError(ctx, "bump timestamp", err)
		}
		return assigned, nil
	}
}

// nextTimestamp picks the new counter value: the caller-supplied timestamp
// when given, else the record's own modified field, else now; colliding
// with the current counter slides one millisecond into the future.
func (s *Store) nextTimestamp(current int64, record Record, lastModified *int64) int64 {
	var candidate int64
	specified := false
	switch {
	case lastModified != nil:
		candidate = *lastModified
		specified = true
	case record != nil:
		if v, ok := record[s.opts.ModifiedField]; ok {
			candidate = asInt64(v)
			specified = true
		}
	}
	if !specified {
		candidate = time.Now().UnixMilli()
	}
	if candidate <= current {
		return current + 1
	}
	return candidate
}

// Create stores a new record in the scope. A caller-supplied id colliding
// with an existing record fails with UnicityError carrying the existing
// record; a record without an id gets one from the generator.
func (s *Store) Create(ctx context.Context, resource, parent string, record Record) (Record, error) {
	record = record.clone()
	if _, ok := record[s.opts.IDField]; ok {
		existing, err := s.Get(ctx, resource, parent, s.recordID(record))
		if err == nil {
			return nil, &UnicityError{Field: s.opts.IDField, Existing: existing}
		}
		if !IsNotFound(err) {
			return nil, err
		}
	} else {
		record[s.opts.IDField] = s.opts.IDGenerator()
	}
	if err := s.setRecordTimestamp(ctx, resource, parent, record, nil); err != nil {
		return nil, err
	}
	if err := s.writeRecord(ctx, resource, parent, s.recordID(record), record); err != nil {
		return nil, err
	}
	return record, nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, resource, parent, id string) (Record, error) {
	encoded, err := s.client.Get(ctx, recordKey(resource, parent, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &NotFoundError{ObjectID: id}
	}
	if err != nil {
		return nil, wrapBackendError(ctx, "get record", err)
	}
	record, err := decodeRecord(encoded)
	if err != nil {
		return nil, wrapBackendError(ctx, "get record", err)
	}
	return record, nil
}

// Update overwrites whatever record (or none) exists at id, re-stamping
// the timestamp. Unlike Create it never checks unicity.
func (s *Store) Update(ctx context.Context, resource, parent, id string, record Record) (Record, error) {
	record = record.clone()
	record[s.opts.IDField] = id
	if err := s.setRecordTimestamp(ctx, resource, parent, record, nil); err != nil {
		return nil, err
	}
	if err := s.writeRecord(ctx, resource, parent, id, record); err != nil {
		return nil, err
	}
	return record, nil
}

// writeRecord applies the atomic triple: store the encoded record, add its
// id to the live set, drop it from the tombstone set (resurrection case).
func (s *Store) writeRecord(ctx context.Context, resource, parent, id string, record Record) error {
	encoded, err := encodeRecord(record)
	if err != nil {
		return wrapBackendError(ctx, "encode record", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(resource, parent, id), encoded, 0)
		pipe.SAdd(ctx, recordSetKey(resource, parent), id)
		pipe.SRem(ctx, deletedSetKey(resource, parent), id)
		return nil
	})
	return wrapBackendError(ctx, "write record", err)
}

// Delete atomically fetches-and-removes the live record, turns it into a
// tombstone stamped with a fresh (or caller-supplied) timestamp and, when
// withDeleted is set, stores the tombstone for later synchronization.
// The tombstone is returned.
func (s *Store) Delete(ctx context.Context, resource, parent, id string,
	withDeleted bool, lastModified *int64) (Record, error) {

	var getCmd *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, recordKey(resource, parent, id))
		pipe.Del(ctx, recordKey(resource, parent, id))
		pipe.SRem(ctx, recordSetKey(resource, parent), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapBackendError(ctx, "delete record", err)
	}

	encoded, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, &NotFoundError{ObjectID: id}
	}
	if err != nil {
		return nil, wrapBackendError(ctx, "delete record", err)
	}
	existing, err := decodeRecord(encoded)
	if err != nil {
		return nil, wrapBackendError(ctx, "delete record", err)
	}

	// The deletion gets its own timestamp, never the record's old one.
	delete(existing, s.opts.ModifiedField)
	if err := s.setRecordTimestamp(ctx, resource, parent, existing, lastModified); err != nil {
		return nil, err
	}
	tombstone := s.stripDeletedRecord(existing)

	if withDeleted {
		encodedTombstone, err := encodeRecord(tombstone)
		if err != nil {
			return nil, wrapBackendError(ctx, "delete record", err)
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, deletedKey(resource, parent, id), encodedTombstone, 0)
			pipe.SAdd(ctx, deletedSetKey(resource, parent), id)
			return nil
		})
		if err != nil {
			return nil, wrapBackendError(ctx, "delete record", err)
		}
	}
	return tombstone, nil
}

// PurgeDeleted permanently removes tombstones, optionally only those whose
// deletion timestamp is strictly older than before. An empty resource
// purges across every resource sharing the parent pattern. Returns the
// number of tombstones removed.
func (s *Store) PurgeDeleted(ctx context.Context, resource, parent string, before *int64) (int, error) {
	setKeys, err := s.scanScopeSetKeys(ctx, deletedSetKey(resource, parent))
	if err != nil {
		return 0, wrapBackendError(ctx, "purge deleted", err)
	}
	idsPerSet, err := s.setMembers(ctx, setKeys)
	if err != nil {
		return 0, wrapBackendError(ctx, "purge deleted", err)
	}

	purged := 0
	for i, ids := range idsPerSet {
		if len(ids) == 0 {
			continue
		}
		scopeResource, scopeParent, _ := parseScopeSetKey(setKeys[i])
		keys := make([]string, len(ids))
		for j, id := range ids {
			keys[j] = deletedKey(scopeResource, scopeParent, id)
		}
		encoded, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return purged, wrapBackendError(ctx, "purge deleted", err)
		}

		var toRemove []string
		for _, raw := range encoded {
			str, ok := raw.(string)
			if !ok {
				continue
			}
			tombstone, err := decodeRecord(str)
			if err != nil {
				return purged, wrapBackendError(ctx, "purge deleted", err)
			}
			if before != nil && asInt64(tombstone[s.opts.ModifiedField]) >= *before {
				continue
			}
			toRemove = append(toRemove, s.recordID(tombstone))
		}
		if len(toRemove) == 0 {
			continue
		}

		removeKeys := make([]string, len(toRemove))
		for j, id := range toRemove {
			removeKeys[j] = deletedKey(scopeResource, scopeParent, id)
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, removeKeys...)
			pipe.SRem(ctx, setKeys[i], toRemove)
			return nil
		})
		if err != nil {
			return purged, wrapBackendError(ctx, "purge deleted", err)
		}
		purged += len(toRemove)
	}
	return purged, nil
}

// ListAll materializes the scope's records (plus tombstones when asked),
// runs them through the record-set processor and returns the resulting
// page along with the post-filter total.
func (s *Store) ListAll(ctx context.Context, resource, parent string, q Query) ([]Record, int, error) {
	records, err := s.objectsByParentID(ctx, resource, parent, false)
	if err != nil {
		return nil, 0, wrapBackendError(ctx, "list records", err)
	}
	if q.IncludeDeleted {
		tombstones, err := s.tombstonesByParentID(ctx, resource, parent)
		if err != nil {
			return nil, 0, wrapBackendError(ctx, "list records", err)
		}
		records = append(records, tombstones...)
	}
	page, total := extractRecordSet(records, q.Filters, q.Sorting,
		s.opts.IDField, s.opts.DeletedField, q.PaginationRules, q.Limit)
	return page, total, nil
}

// CountAll returns the number of live records matching the filters.
func (s *Store) CountAll(ctx context.Context, resource, parent string, filters []Filter) (int, error) {
	records, err := s.objectsByParentID(ctx, resource, parent, false)
	if err != nil {
		return 0, wrapBackendError(ctx, "count records", err)
	}
	return len(applyFilters(records, filters)), nil
}

// DeleteAll deletes every record selected by the query, one atomic delete
// per record. The batch itself is not atomic: a crash mid-way leaves a
// partial deletion, which is safe to re-run since each delete is
// idempotent. Returns the tombstones.
func (s *Store) DeleteAll(ctx context.Context, resource, parent string, q Query,
	withDeleted bool) ([]Record, error) {

	records, err := s.objectsByParentID(ctx, resource, parent, true)
	if err != nil {
		return nil, wrapBackendError(ctx, "delete records", err)
	}
	selected, _ := extractRecordSet(records, q.Filters, q.Sorting,
		s.opts.IDField, s.opts.DeletedField, q.PaginationRules, q.Limit)

	tombstones := make([]Record, 0, len(selected))
	for _, record := range selected {
		scopeResource, _ := record[metaResourceField].(string)
		scopeParent, _ := record[metaParentField].(string)
		tombstone, err := s.Delete(ctx, scopeResource, scopeParent,
			s.recordID(record), withDeleted, nil)
		if err != nil {
			return tombstones, err
		}
		tombstones = append(tombstones, tombstone)
	}
	return tombstones, nil
}

// objectsByParentID materializes every live record under the scope
// pattern: scan the live-id-set keys, read each set, bulk-fetch the
// members. withMeta tags each record with its owning scope.
func (s *Store) objectsByParentID(ctx context.Context, resource, parent string, withMeta bool) ([]Record, error) {
	setKeys, err := s.scanScopeSetKeys(ctx, recordSetKey(resource, parent))
	if err != nil {
		return nil, err
	}
	idsPerSet, err := s.setMembers(ctx, setKeys)
	if err != nil {
		return nil, err
	}

	var records []Record
	for i, ids := range idsPerSet {
		if len(ids) == 0 {
			continue
		}
		scopeResource, scopeParent, _ := parseScopeSetKey(setKeys[i])
		keys := make([]string, len(ids))
		for j, id := range ids {
			keys[j] = recordKey(scopeResource, scopeParent, id)
		}
		scoped, err := s.mgetRecords(ctx, keys)
		if err != nil {
			return nil, err
		}
		if withMeta {
			for _, r := range scoped {
				r[metaResourceField] = scopeResource
				r[metaParentField] = scopeParent
			}
		}
		records = append(records, scoped...)
	}
	return records, nil
}

func (s *Store) tombstonesByParentID(ctx context.Context, resource, parent string) ([]Record, error) {
	setKeys, err := s.scanScopeSetKeys(ctx, deletedSetKey(resource, parent))
	if err != nil {
		return nil, err
	}
	idsPerSet, err := s.setMembers(ctx, setKeys)
	if err != nil {
		return nil, err
	}

	var tombstones []Record
	for i, ids := range idsPerSet {
		if len(ids) == 0 {
			continue
		}
		scopeResource, scopeParent, _ := parseScopeSetKey(setKeys[i])
		keys := make([]string, len(ids))
		for j, id := range ids {
			keys[j] = deletedKey(scopeResource, scopeParent, id)
		}
		scoped, err := s.mgetRecords(ctx, keys)
		if err != nil {
			return nil, err
		}
		tombstones = append(tombstones, scoped...)
	}
	return tombstones, nil
}

// scanScopeSetKeys enumerates scope-set keys by pattern, skipping keys
// whose segments do not parse as exactly (resource, parent, kind).
func (s *Store) scanScopeSetKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if _, _, ok := parseScopeSetKey(iter.Val()); ok {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// setMembers reads every set in one pipelined round trip.
func (s *Store) setMembers(ctx context.Context, keys []string) ([][]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.SMembers(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	members := make([][]string, len(keys))
	for i, cmd := range cmds {
		members[i] = cmd.Val()
	}
	return members, nil
}

// mgetRecords bulk-fetches and decodes records, skipping keys that
// vanished between the set read and the fetch.
func (s *Store) mgetRecords(ctx context.Context, keys []string) ([]Record, error) {
	encoded, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(encoded))
	for _, raw := range encoded {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		record, err := decodeRecord(str)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// setRecordTimestamp stamps the record with a freshly bumped scope
// timestamp.
func (s *Store) setRecordTimestamp(ctx context.Context, resource, parent string,
	record Record, lastModified *int64) error {

	ts, err := s.BumpAndStoreTimestamp(ctx, resource, parent, record, lastModified)
	if err != nil {
		return err
	}
	record[s.opts.ModifiedField] = ts
	return nil
}

// stripDeletedRecord reduces a record to its tombstone shape: id, deletion
// timestamp, deleted marker, plus any configured preserved fields.
func (s *Store) stripDeletedRecord(record Record) Record {
	tombstone := Record{
		s.opts.IDField:       record[s.opts.IDField],
		s.opts.ModifiedField: record[s.opts.ModifiedField],
		s.opts.DeletedField:  true,
	}
	for _, field := range s.opts.PreserveOnDelete {
		if v, ok := record[field]; ok {
			tombstone[field] = v
		}
	}
	return tombstone
}

func (s *Store) recordID(record Record) string {
	switch id := record[s.opts.IDField].(type) {
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func encodeRecord(record Record) (string, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// decodeRecord keeps numbers as json.Number so integer timestamps survive
// the round trip exactly.
func decodeRecord(encoded string) (Record, error) {
	dec := json.NewDecoder(strings.NewReader(encoded))
	dec.UseNumber()
	var record Record
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return record, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
