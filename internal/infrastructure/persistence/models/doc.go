// Package models contains GORM persistence models for the receiving tables.
// Models carry all ORM tags and convert to and from domain types with
// ToDomain / FromDomain, keeping the domain layer free of storage concerns.
package models
