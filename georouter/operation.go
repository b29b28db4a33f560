/*
Copyright 2025-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package georouter

import "strings"

// OperationKind is a flag set describing which classes of operation an
// endpoint is being evaluated (or has failed) for.
type OperationKind uint8

const (
	OperationKindNone  OperationKind = 0
	OperationKindRead  OperationKind = 1 << 0
	OperationKindWrite OperationKind = 1 << 1
)

func (k OperationKind) Has(other OperationKind) bool {
	return other != OperationKindNone && k&other == other
}

func (k OperationKind) String() string {
	switch k {
	case OperationKindNone:
		return "none"
	case OperationKindRead:
		return "read"
	case OperationKindWrite:
		return "write"
	case OperationKindRead | OperationKindWrite:
		return "read,write"
	}
	return "unknown"
}

// OperationType is the operation a request performs against a resource.
type OperationType int

const (
	OperationTypeRead OperationType = iota
	OperationTypeReadFeed
	OperationTypeQuery
	OperationTypeHead
	OperationTypeCreate
	OperationTypeUpsert
	OperationTypeReplace
	OperationTypePatch
	OperationTypeDelete
	OperationTypeBatch
	OperationTypeExecuteJavaScript
)

var operationTypeNames = map[OperationType]string{
	OperationTypeRead:              "Read",
	OperationTypeReadFeed:          "ReadFeed",
	OperationTypeQuery:             "Query",
	OperationTypeHead:              "Head",
	OperationTypeCreate:            "Create",
	OperationTypeUpsert:            "Upsert",
	OperationTypeReplace:           "Replace",
	OperationTypePatch:             "Patch",
	OperationTypeDelete:            "Delete",
	OperationTypeBatch:             "Batch",
	OperationTypeExecuteJavaScript: "ExecuteJavaScript",
}

func (t OperationType) String() string {
	if name, ok := operationTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// IsWrite reports whether the operation must be routed to a writable region.
// Stored procedure execution counts as a write since it can mutate documents.
func (t OperationType) IsWrite() bool {
	switch t {
	case OperationTypeRead, OperationTypeReadFeed, OperationTypeQuery, OperationTypeHead:
		return false
	}
	return true
}

// Kind collapses the operation type into the read/write flag used for
// availability tracking.
func (t OperationType) Kind() OperationKind {
	if t.IsWrite() {
		return OperationKindWrite
	}
	return OperationKindRead
}

// ResourceType is the kind of resource a request targets.  Only document
// writes (and stored procedure execution) may fan out across write regions.
type ResourceType int

const (
	ResourceTypeDocument ResourceType = iota
	ResourceTypeDatabase
	ResourceTypeContainer
	ResourceTypeStoredProcedure
	ResourceTypeTrigger
	ResourceTypeUserDefinedFunction
	ResourceTypePartitionKeyRange
	ResourceTypeOffer
	ResourceTypeUser
	ResourceTypePermission
	ResourceTypeConflict
)

var resourceTypeNames = []string{
	"Document",
	"Database",
	"Container",
	"StoredProcedure",
	"Trigger",
	"UserDefinedFunction",
	"PartitionKeyRange",
	"Offer",
	"User",
	"Permission",
	"Conflict",
}

func (t ResourceType) String() string {
	if int(t) >= 0 && int(t) < len(resourceTypeNames) {
		return resourceTypeNames[t]
	}
	return "Unknown"
}

// ParseResourceType is the inverse of ResourceType.String, ignoring case.
func ParseResourceType(s string) (ResourceType, bool) {
	for idx, name := range resourceTypeNames {
		if strings.EqualFold(name, s) {
			return ResourceType(idx), true
		}
	}
	return 0, false
}

// ParseOperationType is the inverse of OperationType.String, ignoring case.
func ParseOperationType(s string) (OperationType, bool) {
	for opType, name := range operationTypeNames {
		if strings.EqualFold(name, s) {
			return opType, true
		}
	}
	return 0, false
}
