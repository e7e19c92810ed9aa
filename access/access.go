// Package access implements AccessControl (spec §4.7, C7): a
// principal->permission bitmask map over scopes (containers and
// individual blob paths), backed by a state.Journal (DurableState, spec
// §4.1), the same journal type keystore uses for key material. Grounded
// on the teacher's cmn/access bitmask package (ais permission flags
// are likewise an or'd bitmask compared with HasPermission-style
// checks), generalized from aistore's flat bucket ACL to the scoped
// (container, blob) hierarchy this spec calls for.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package access

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/state"
)

// Permission is a bitmask over the access levels spec §3 names.
type Permission uint8

const (
	Read Permission = 1 << iota
	Write
	Execute
	Delete
	FullControl = Read | Write | Execute | Delete
)

// entry is the (granted, denied) mask pair journaled per (scope, principal).
type entry struct {
	Allow Permission `json:"allow"`
	Deny  Permission `json:"deny"`
}

// Control is the AccessControl implementation.
type Control struct {
	journal *state.Journal
	// AdminPrincipal, if non-empty, bypasses every check (spec §4.7);
	// every bypass is logged at Warning so it shows up in an audit trail
	// without Control needing its own audit-log dependency.
	AdminPrincipal string
	// OpenPermissive, when true, grants every request without
	// consulting the journal at all. This is the "open-permissive ACL
	// (with a warning)" fallback kernel.Boot substitutes when no ACL
	// journal path is configured (spec §4.12) — distinct from
	// AdminPrincipal, which bypasses for one named caller only.
	OpenPermissive bool
}

// Open opens (or creates) the ACL journal at path.
func Open(path string) (*Control, error) {
	return OpenWithThreshold(path, state.DefaultCompactThreshold)
}

// OpenWithThreshold is Open with an operator-configured compaction
// threshold (kernel.Config's CompactionThreshold, spec §4.1).
func OpenWithThreshold(path string, threshold int) (*Control, error) {
	j, err := state.OpenWithThreshold(path, threshold)
	if err != nil {
		return nil, err
	}
	return &Control{journal: j}, nil
}

func journalKey(scope, principal string) string { return scope + "\x00" + principal }

// CreateScope grants FullControl to owner over path (spec §4.7).
func (c *Control) CreateScope(path, owner string) error {
	return c.SetPermissions(path, owner, FullControl, 0)
}

// SetPermissions is idempotent: calling it again with the same
// (path, principal, allow, deny) overwrites the prior entry with an
// identical one (spec §4.7).
func (c *Control) SetPermissions(path, principal string, allow, deny Permission) error {
	return c.journal.Set(journalKey(path, principal), entry{Allow: allow, Deny: deny}, false)
}

// HasAccess reports whether principal holds required over path: true
// iff (granted & required) == required and (denied & required) == 0
// (spec §4.7). The designated AdminPrincipal bypasses this check
// entirely, with the bypass audit-logged (spec §4.7's MAY clause). A
// grant doesn't have to be set on the exact path: if path itself carries
// no entry for principal, HasAccess walks path's ancestor scopes
// (narrowest first, via cmn.ParentFolders) and uses the nearest one that
// does — so a single CreateScope(containerId, owner) grants owner
// access to every blob under that container, not just a literal
// journal entry for containerId itself.
func (c *Control) HasAccess(path, principal string, required Permission) bool {
	if c.OpenPermissive {
		return true
	}
	if c.AdminPrincipal != "" && principal == c.AdminPrincipal {
		glog.Warningf("access: admin bypass for %s on %s (required=%s)", principal, path, required)
		return true
	}
	candidates := append([]string{path}, cmn.ParentFolders(path)...)
	for _, p := range candidates {
		var e entry
		ok, err := c.journal.TryGet(journalKey(p, principal), &e)
		if err != nil {
			return false
		}
		if !ok {
			continue
		}
		return (e.Allow&required) == required && (e.Deny&required) == 0
	}
	return false
}

func (p Permission) String() string {
	if p == FullControl {
		return "FullControl"
	}
	var parts []string
	if p&Read != 0 {
		parts = append(parts, "Read")
	}
	if p&Write != 0 {
		parts = append(parts, "Write")
	}
	if p&Execute != 0 {
		parts = append(parts, "Execute")
	}
	if p&Delete != 0 {
		parts = append(parts, "Delete")
	}
	if len(parts) == 0 {
		return "None"
	}
	return fmt.Sprint(parts)
}

// Close releases the underlying journal.
func (c *Control) Close() error { return c.journal.Close() }
