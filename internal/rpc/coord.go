package rpc

import "github.com/cms-dev/cms/internal/domain"

// ServiceCoord and Address are aliased from domain so every layer shares
// one definition of "named, sharded service" identity (spec.md §4.A).
type ServiceCoord = domain.ServiceCoord

type Address = domain.Address
