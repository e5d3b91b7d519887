// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description contains the types for server and topology descriptions
// and the selector boundary consumed from the monitoring layer. Discovery and
// monitoring itself lives behind the Deployment interface; this package only
// describes what a selection produced.
package description

import (
	"fmt"

	"github.com/ikmak/mongocore/driver/address"
	"github.com/ikmak/mongocore/mongo/readpref"
)

// ServerKind represents the type of a single server in a topology.
type ServerKind uint32

// These constants are the possible kinds of servers.
const (
	Standalone  ServerKind = 1
	RSPrimary   ServerKind = 4
	RSSecondary ServerKind = 8
	Mongos      ServerKind = 256
)

// String returns the string representation of the server kind.
func (kind ServerKind) String() string {
	switch kind {
	case Standalone:
		return "Standalone"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case Mongos:
		return "Mongos"
	}
	return "Unknown"
}

// TopologyKind represents the type of the topology a server belongs to.
type TopologyKind uint32

// These constants are the possible kinds of topologies.
const (
	Single                TopologyKind = 1
	ReplicaSetWithPrimary TopologyKind = 4
	Sharded               TopologyKind = 256
)

// String returns the string representation of the topology kind.
func (kind TopologyKind) String() string {
	switch kind {
	case Single:
		return "Single"
	case ReplicaSetWithPrimary:
		return "ReplicaSetWithPrimary"
	case Sharded:
		return "Sharded"
	}
	return "Unknown"
}

// VersionRange represents a range of versions.
type VersionRange struct {
	Min int32
	Max int32
}

// Includes returns a bool indicating whether the supplied integer is included
// in the range.
func (vr VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// String implements the fmt.Stringer interface.
func (vr VersionRange) String() string {
	return fmt.Sprintf("[%d, %d]", vr.Min, vr.Max)
}

// Server contains the description of a single server as reported by the
// monitoring layer.
type Server struct {
	Addr address.Address

	Kind                  ServerKind
	WireVersion           *VersionRange
	SessionTimeoutMinutes uint32
}

// SupportsSessions returns true if the server is session-aware, which requires
// it to be part of a deployment with a logical session timeout.
func (s Server) SupportsSessions() bool {
	return s.SessionTimeoutMinutes != 0
}

// SupportsRetryWrites returns true if this server supports retryable writes.
// Standalone servers never do, regardless of version.
func (s Server) SupportsRetryWrites() bool {
	return s.SessionTimeoutMinutes != 0 && s.Kind != Standalone
}

// SelectedServer augments the Server type by also including the topology kind
// of the deployment it was selected from.
type SelectedServer struct {
	Server
	Kind TopologyKind
}

// Topology contains a description of the whole deployment.
type Topology struct {
	Kind                  TopologyKind
	Servers               []Server
	SessionTimeoutMinutes uint32
}

// String implements the fmt.Stringer interface.
func (t Topology) String() string {
	str := fmt.Sprintf("Type: %s, Servers: [", t.Kind)
	for i, s := range t.Servers {
		if i > 0 {
			str += ", "
		}
		str += fmt.Sprintf("%s (%s)", s.Addr, s.Kind)
	}
	return str + "]"
}

// ServerSelector is an interface implemented by types that can perform server
// selection given a topology description. The selection algorithm itself
// (read-preference matching, staleness, latency windows) is owned by the
// monitoring layer and consumed here as a black box.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc is a function that can be used as a ServerSelector.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements the ServerSelector interface.
func (ssf ServerSelectorFunc) SelectServer(t Topology, s []Server) ([]Server, error) {
	return ssf(t, s)
}

// ReadPrefSelector selects servers based on the provided read preference. A
// nil read preference selects as if primary were specified. Standalone and
// mongos servers are always eligible for reads; mode matching only applies to
// replica set members.
func ReadPrefSelector(rp *readpref.ReadPref) ServerSelector {
	return ServerSelectorFunc(func(t Topology, candidates []Server) ([]Server, error) {
		mode := readpref.PrimaryMode
		if rp != nil {
			mode = rp.Mode()
		}

		var primaries, secondaries, other []Server
		for _, candidate := range candidates {
			switch candidate.Kind {
			case Standalone, Mongos:
				other = append(other, candidate)
			case RSPrimary:
				primaries = append(primaries, candidate)
			case RSSecondary:
				secondaries = append(secondaries, candidate)
			}
		}

		var selected []Server
		switch mode {
		case readpref.PrimaryMode:
			selected = primaries
		case readpref.PrimaryPreferredMode:
			selected = primaries
			if len(selected) == 0 {
				selected = secondaries
			}
		case readpref.SecondaryMode:
			selected = secondaries
		case readpref.SecondaryPreferredMode:
			selected = secondaries
			if len(selected) == 0 {
				selected = primaries
			}
		case readpref.NearestMode:
			selected = append(append([]Server{}, primaries...), secondaries...)
		}
		return append(selected, other...), nil
	})
}

// WriteSelector selects all data-bearing writable servers.
func WriteSelector() ServerSelector {
	return ServerSelectorFunc(func(t Topology, candidates []Server) ([]Server, error) {
		selected := make([]Server, 0, len(candidates))
		for _, candidate := range candidates {
			switch candidate.Kind {
			case Standalone, RSPrimary, Mongos:
				selected = append(selected, candidate)
			}
		}
		return selected, nil
	})
}
