package storage

import (
	"fmt"
	"strings"
)

// Key layout, one namespace per (resource, parent) scope:
//
//	{resource}.{parent}.records      set of live object ids
//	{resource}.{parent}.{id}.records one encoded object
//	{resource}.{parent}.deleted      set of tombstoned ids
//	{resource}.{parent}.{id}.deleted one encoded tombstone
//	{resource}.{parent}.timestamp    scope timestamp counter
//
// The layout is wire-compatible with existing deployments, so the "."
// delimiter and segment order must not change.

const (
	kindRecords   = "records"
	kindDeleted   = "deleted"
	kindTimestamp = "timestamp"
)

// wildcardResource substitutes "*" for an empty resource name so that
// scans can enumerate across every resource sharing a parent pattern.
func wildcardResource(resource string) string {
	if resource == "" {
		return "*"
	}
	return resource
}

func recordSetKey(resource, parent string) string {
	return fmt.Sprintf("%s.%s.%s", wildcardResource(resource), parent, kindRecords)
}

func recordKey(resource, parent, id string) string {
	return fmt.Sprintf("%s.%s.%s.%s", resource, parent, id, kindRecords)
}

func deletedSetKey(resource, parent string) string {
	return fmt.Sprintf("%s.%s.%s", wildcardResource(resource), parent, kindDeleted)
}

func deletedKey(resource, parent, id string) string {
	return fmt.Sprintf("%s.%s.%s.%s", resource, parent, id, kindDeleted)
}

func timestampKey(resource, parent string) string {
	return fmt.Sprintf("%s.%s.%s", resource, parent, kindTimestamp)
}

// parseScopeSetKey splits a live-id-set or tombstone-id-set key back into
// its (resource, parent) scope. Keys that do not split into exactly three
// segments are reported as invalid and skipped by pattern scans.
func parseScopeSetKey(key string) (resource, parent string, ok bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
