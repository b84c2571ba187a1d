// Package kverrors defines the closed set of error kinds the cluster
// core can return, grounded in spec §7.
package kverrors
