// Package lockmgr implements the Index Lockers component (C4): hash
// and sorted index locks keyed by (index_id, byte_sequence), held from
// acquisition until the owning transaction commits or aborts.
package lockmgr
