package model

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
)

type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert":
		return OpInsert, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("op must be insert|update|delete (got %q)", s)
	}
}

// FeatureChange is one local edit. ID is required for updates and deletes.
type FeatureChange struct {
	Op         Op
	ID         string
	Properties Properties
	Geometry   geom.T
}

type TransactionRequest struct {
	TypeName     string
	NamespaceURI string
	SrsName      string
	GeometryName string
	Version      string
	Inserts      []FeatureChange
	Updates      []FeatureChange
	Deletes      []FeatureChange
}

// Add sorts changes into their operation group, keeping the relative order
// within each group.
func (r *TransactionRequest) Add(changes ...FeatureChange) {
	for _, c := range changes {
		switch c.Op {
		case OpInsert:
			r.Inserts = append(r.Inserts, c)
		case OpUpdate:
			r.Updates = append(r.Updates, c)
		case OpDelete:
			r.Deletes = append(r.Deletes, c)
		}
	}
}

func (r TransactionRequest) Empty() bool {
	return len(r.Inserts) == 0 && len(r.Updates) == 0 && len(r.Deletes) == 0
}

// Changes returns every change in document order: inserts, updates, deletes.
func (r TransactionRequest) Changes() []FeatureChange {
	out := make([]FeatureChange, 0, len(r.Inserts)+len(r.Updates)+len(r.Deletes))
	out = append(out, r.Inserts...)
	out = append(out, r.Updates...)
	return append(out, r.Deletes...)
}
