// Package schema defines the column and schema model used by the
// binary row codec (spec §3 "Schema", §4.2). It is deliberately data-
// only: encoding lives in pkg/binrow and pkg/bintuple so the schema
// description can be shared by both the row codec and the SQL/compute
// layers this core does not implement.
package schema
