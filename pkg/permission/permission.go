// Package permission implements a hierarchical, set-based access-control
// backend on top of redis. Grants live in one principal set per
// (object id, permission) pair; "which objects can this principal act on"
// queries resolve by pattern-scanning grant keys, deliberately over-matching
// descendants and optionally narrowing with regular expressions.
package permission

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/redhat-data-and-ai/syncstore/pkg/logger"
)

// Authenticated is the implicit principal granted to every logged-in user.
// Its membership set is unioned into every resolved user principal set.
const Authenticated = "system.Authenticated"

// Principals is a set of user/group identifiers.
type Principals map[string]struct{}

// NewPrincipals builds a set from its members.
func NewPrincipals(members ...string) Principals {
	set := make(Principals, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set
}

func (p Principals) slice() []string {
	out := make([]string, 0, len(p))
	for member := range p {
		out = append(out, member)
	}
	return out
}

func (p Principals) intersects(other Principals) bool {
	for member := range p {
		if _, ok := other[member]; ok {
			return true
		}
	}
	return false
}

// BoundPermission scopes a resolution query to an object-id pattern and a
// permission name. The object pattern may contain "*" wildcards.
type BoundPermission struct {
	Object     string
	Permission string
}

// BackendError wraps any redis failure crossing the permission boundary.
type BackendError struct {
	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("permission backend error: %s: %v", e.Message, e.Cause)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Backend is the redis implementation of the permission contract.
type Backend struct {
	client redis.UniversalClient
}

// New creates a permission Backend.
func New(client redis.UniversalClient) *Backend {
	return &Backend{client: client}
}

func userKey(userID string) string {
	return "user:" + userID
}

func aceKey(objectID, permission string) string {
	return fmt.Sprintf("permission:%s:%s", objectID, permission)
}

// Flush wipes the whole database. Test/reset only.
func (b *Backend) Flush(ctx context.Context) error {
	return b.wrap(ctx, "flush", b.client.FlushDB(ctx).Err())
}

// AddUserPrincipal adds a group/role principal to the user's set.
func (b *Backend) AddUserPrincipal(ctx context.Context, userID, principal string) error {
	return b.wrap(ctx, "add user principal", b.client.SAdd(ctx, userKey(userID), principal).Err())
}

// RemoveUserPrincipal removes a principal from the user's set. The key is
// deleted outright once the set is empty, keeping pattern scans free of
// placeholder keys.
func (b *Backend) RemoveUserPrincipal(ctx context.Context, userID, principal string) error {
	key := userKey(userID)
	if err := b.client.SRem(ctx, key, principal).Err(); err != nil {
		return b.wrap(ctx, "remove user principal", err)
	}
	count, err := b.client.SCard(ctx, key).Result()
	if err != nil {
		return b.wrap(ctx, "remove user principal", err)
	}
	if count == 0 {
		if err := b.client.Del(ctx, key).Err(); err != nil {
			return b.wrap(ctx, "remove user principal", err)
		}
	}
	return nil
}

// RemovePrincipal removes the principal from every user's set, one SREM
// per matched key batched in a single pipeline. Not transactional across
// keys; safe to re-run.
func (b *Backend) RemovePrincipal(ctx context.Context, principal string) error {
	keys, err := b.scanKeys(ctx, "user:*")
	if err != nil {
		return b.wrap(ctx, "remove principal", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.SRem(ctx, key, principal)
		}
		return nil
	})
	return b.wrap(ctx, "remove principal", err)
}

// GetUserPrincipals returns the union of the user's own principal set and
// the groups every authenticated user belongs to.
func (b *Backend) GetUserPrincipals(ctx context.Context, userID string) (Principals, error) {
	members, err := b.client.SUnion(ctx, userKey(userID), userKey(Authenticated)).Result()
	if err != nil {
		return nil, b.wrap(ctx, "get user principals", err)
	}
	return NewPrincipals(members...), nil
}

// AddPrincipalToACE grants permission on objectID to principal.
func (b *Backend) AddPrincipalToACE(ctx context.Context, objectID, permission, principal string) error {
	return b.wrap(ctx, "add principal to ace",
		b.client.SAdd(ctx, aceKey(objectID, permission), principal).Err())
}

// RemovePrincipalFromACE revokes the grant; an emptied set is deleted.
func (b *Backend) RemovePrincipalFromACE(ctx context.Context, objectID, permission, principal string) error {
	key := aceKey(objectID, permission)
	if err := b.client.SRem(ctx, key, principal).Err(); err != nil {
		return b.wrap(ctx, "remove principal from ace", err)
	}
	count, err := b.client.SCard(ctx, key).Result()
	if err != nil {
		return b.wrap(ctx, "remove principal from ace", err)
	}
	if count == 0 {
		if err := b.client.Del(ctx, key).Err(); err != nil {
			return b.wrap(ctx, "remove principal from ace", err)
		}
	}
	return nil
}

// GetObjectPermissionPrincipals returns the principals holding permission
// on objectID.
func (b *Backend) GetObjectPermissionPrincipals(ctx context.Context, objectID, permission string) (Principals, error) {
	members, err := b.client.SMembers(ctx, aceKey(objectID, permission)).Result()
	if err != nil {
		return nil, b.wrap(ctx, "get object permission principals", err)
	}
	return NewPrincipals(members...), nil
}

// GetAccessibleObjects resolves which objects the given principals can act
// on, as a map from object id to the granted permission names. Without
// bound permissions every grant key is scanned. Scan patterns naturally
// over-match descendant objects (bucket1/* also hits bucket1/c/records/r
// prefixes); withChildren=false narrows matches back to the exact pattern
// shape via regexes whose wildcard segments refuse slashes.
func (b *Backend) GetAccessibleObjects(ctx context.Context, principals Principals,
	boundPermissions []BoundPermission, withChildren bool) (map[string]Principals, error) {

	var patterns []string
	var narrowing []*regexp.Regexp
	if len(boundPermissions) > 0 {
		for _, bp := range boundPermissions {
			key := aceKey(bp.Object, bp.Permission)
			patterns = append(patterns, key)
			re, err := regexp.Compile("^" + strings.ReplaceAll(regexp.QuoteMeta(key), `\*`, `[^/]+`))
			if err != nil {
				return nil, b.wrap(ctx, "get accessible objects", err)
			}
			narrowing = append(narrowing, re)
		}
	} else {
		patterns = []string{"permission:*"}
	}

	permsByID := make(map[string]Principals)
	for _, pattern := range patterns {
		keys, err := b.scanKeys(ctx, pattern)
		if err != nil {
			return nil, b.wrap(ctx, "get accessible objects", err)
		}
		if !withChildren {
			keys = filterByRegexp(keys, narrowing)
		}
		for _, key := range keys {
			members, err := b.client.SMembers(ctx, key).Result()
			if err != nil {
				return nil, b.wrap(ctx, "get accessible objects", err)
			}
			if !NewPrincipals(members...).intersects(principals) {
				continue
			}
			parts := strings.SplitN(key, ":", 3)
			if len(parts) != 3 {
				continue
			}
			objectID, permission := parts[1], parts[2]
			if _, ok := permsByID[objectID]; !ok {
				permsByID[objectID] = make(Principals)
			}
			permsByID[objectID][permission] = struct{}{}
		}
	}
	return permsByID, nil
}

// GetAuthorizedPrincipals returns the union of principal sets across all
// the given (object, permission) pairs.
func (b *Backend) GetAuthorizedPrincipals(ctx context.Context, boundPermissions []BoundPermission) (Principals, error) {
	if len(boundPermissions) == 0 {
		return Principals{}, nil
	}
	keys := make([]string, len(boundPermissions))
	for i, bp := range boundPermissions {
		keys[i] = aceKey(bp.Object, bp.Permission)
	}
	members, err := b.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, b.wrap(ctx, "get authorized principals", err)
	}
	return NewPrincipals(members...), nil
}

// GetObjectsPermissions returns, per object id and in input order, a
// mapping from permission name to principals. When permissions is empty
// the object's existing grant keys are discovered by scan. Permissions
// with no principals are omitted.
func (b *Backend) GetObjectsPermissions(ctx context.Context, objectIDs []string,
	permissions []string) ([]map[string]Principals, error) {

	objectsPerms := make([]map[string]Principals, 0, len(objectIDs))
	for _, objectID := range objectIDs {
		var keys []string
		if len(permissions) > 0 {
			for _, permission := range permissions {
				keys = append(keys, aceKey(objectID, permission))
			}
		} else {
			scanned, err := b.scanKeys(ctx, fmt.Sprintf("permission:%s:*", objectID))
			if err != nil {
				return nil, b.wrap(ctx, "get objects permissions", err)
			}
			keys = scanned
		}

		cmds := make([]*redis.StringSliceCmd, len(keys))
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				cmds[i] = pipe.SMembers(ctx, key)
			}
			return nil
		})
		if err != nil {
			return nil, b.wrap(ctx, "get objects permissions", err)
		}

		perms := make(map[string]Principals)
		for i, cmd := range cmds {
			principals := NewPrincipals(cmd.Val()...)
			if len(principals) == 0 {
				continue
			}
			permission := strings.SplitN(keys[i], ":", 3)[2]
			perms[permission] = principals
		}
		objectsPerms = append(objectsPerms, perms)
	}
	return objectsPerms, nil
}

// ReplaceObjectPermissions overwrites the object's ACL for exactly the
// named permissions: each key is deleted and re-added with the full
// principal set in one pipeline. Unnamed permissions are untouched.
func (b *Backend) ReplaceObjectPermissions(ctx context.Context, objectID string,
	permissions map[string]Principals) error {

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for permission, principals := range permissions {
			key := aceKey(objectID, permission)
			pipe.Del(ctx, key)
			if len(principals) > 0 {
				pipe.SAdd(ctx, key, principals.slice())
			}
		}
		return nil
	})
	return b.wrap(ctx, "replace object permissions", err)
}

// DeleteObjectPermissions drops every grant key of every given object.
func (b *Backend) DeleteObjectPermissions(ctx context.Context, objectIDs ...string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, objectID := range objectIDs {
			keys, err := b.scanKeys(ctx, fmt.Sprintf("permission:%s:*", objectID))
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				pipe.Del(ctx, keys...)
			}
		}
		return nil
	})
	return b.wrap(ctx, "delete object permissions", err)
}

func (b *Backend) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func filterByRegexp(keys []string, regexps []*regexp.Regexp) []string {
	if len(regexps) == 0 {
		return keys
	}
	var out []string
	for _, key := range keys {
		for _, re := range regexps {
			if re.MatchString(key) {
				out = append(out, key)
				break
			}
		}
	}
	return out
}

func (b *Backend) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	logger.Logger(ctx).WithError(err).WithField("operation", op).Error("permission backend failure")
	return &BackendError{Message: op, Cause: err}
}
