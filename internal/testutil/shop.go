package testutil

import (
	"fmt"

	"github.com/roach88/asof/internal/entity"
	"github.com/roach88/asof/internal/ir"
	"github.com/roach88/asof/internal/schema"
)

// ShopCUE is the metadata used across package tests. It matches
// internal/schema/testdata/shop.
const ShopCUE = `
entity: Order: {
	id:   1
	root: true
	owns: {
		lines: "OrderLine"
		notes: "Note"
	}
	refs: customer: "Customer"
}
entity: OrderLine: {
	id: 2
	owns: discounts: "Discount"
	refs: order: "Order"
}
entity: Customer: {
	id:   3
	root: true
}
entity: Discount: id: 4
entity: Note: id: 5
`

// ShopSchema compiles ShopCUE and panics on error.
func ShopSchema() *schema.Registry {
	reg, err := schema.CompileString(ShopCUE)
	if err != nil {
		panic(fmt.Sprintf("shop schema: %v", err))
	}
	return reg
}

// Rev builds an audit log entry carrying e's serialized state. parent is 0
// for aggregate roots.
func Rev(commit int64, date string, action ir.Action, e *entity.Entity, root, parent int64) ir.AuditLogEntry {
	reg := ShopSchema()
	t, err := reg.ByName(e.Type)
	if err != nil {
		panic(err)
	}
	payload, err := entity.NewCodec(reg).Serialize(e)
	if err != nil {
		panic(err)
	}
	return ir.AuditLogEntry{
		CommitID:       commit,
		ObjectID:       e.ID,
		RootObjectID:   root,
		ParentObjectID: parent,
		EntityTypeID:   t.ID,
		EffectiveDate:  Date(date),
		Action:         action,
		Payload:        payload,
	}
}

// Removal builds the tombstone entry for an object.
func Removal(commit int64, date, typeName string, object, root, parent int64) ir.AuditLogEntry {
	t, err := ShopSchema().ByName(typeName)
	if err != nil {
		panic(err)
	}
	return ir.AuditLogEntry{
		CommitID:       commit,
		ObjectID:       object,
		RootObjectID:   root,
		ParentObjectID: parent,
		EntityTypeID:   t.ID,
		EffectiveDate:  Date(date),
		Action:         ir.ActionRemoved,
	}
}
