package main

import (
	"encoding/gob"
	"net"

	"github.com/ironMann/DataDistribution/builder"
	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/stfmodel"
)

// fragmentEnvelope is this binary's stand-in for the out-of-scope raw
// readout fragment transport (§1: "The raw readout header/RDH binary
// format... a separate codec module provides subspec extraction and
// sanity checks" — the wire carrying those fragments to the builder is
// never specified). gob keeps it consistent with the rpc package's own
// codec choice rather than inventing a third wire format. Raw carries
// the RDH header followed by the detector payload, unextracted: the
// InputInterface (not this transport) owns sanity-checking, filtering,
// and subspec extraction (§4.3, §4.7).
type fragmentEnvelope struct {
	TFID        stfmodel.TFID
	Origin      stfmodel.Origin
	Description string
	Raw         []byte
	EndOfTF     bool
}

// serveFragments accepts readout-fragment connections on ln and feeds
// each decoded envelope into role's InputInterface.
func serveFragments(ln net.Listener, role *builder.Role) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go readFragmentConn(conn, role)
	}
}

func readFragmentConn(conn net.Conn, role *builder.Role) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	for {
		var env fragmentEnvelope
		if err := dec.Decode(&env); err != nil {
			return
		}
		if env.EndOfTF {
			role.EndOfTF(env.TFID)
			continue
		}
		id := stfmodel.DataIdentifier{Origin: env.Origin, Description: env.Description}
		if err := role.PushFragment(env.TFID, env.Origin, id, env.Raw); err != nil {
			nlog.Warningf("stfbuilder: dropped fragment for TFID %d: %v", env.TFID, err)
		}
	}
}
