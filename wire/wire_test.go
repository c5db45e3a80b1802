package wire

import (
	"net"
	"testing"

	"github.com/ironMann/DataDistribution/stfmodel"
)

func TestTCPChannelSendReceiveRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *TCPChannel, 1)
	go func() {
		ch, err := ln.Accept()
		if err != nil {
			t.Error(err)
			return
		}
		accepted <- ch
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewTCPChannel(conn)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	stf := stfmodel.New(9, "FLP")
	id := stfmodel.DataIdentifier{Origin: "TPC", Description: "RAWDATA"}
	if err := stf.Append(id, 0xCAFE, []byte("payload-one")); err != nil {
		t.Fatalf("append: %v", err)
	}
	parts := stfmodel.Encode(stf)

	if err := client.Send(NewMessage(parts)); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := server.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(got.Parts) != len(parts) {
		t.Fatalf("expected %d parts, got %d", len(parts), len(got.Parts))
	}
	for i := range parts {
		if got.Parts[i].Header != parts[i].Header {
			t.Fatalf("part %d header mismatch: got %+v, want %+v", i, got.Parts[i].Header, parts[i].Header)
		}
		if string(got.Parts[i].Payload) != string(parts[i].Payload) {
			t.Fatalf("part %d payload mismatch", i)
		}
	}
}

func TestTCPChannelEmptyMessage(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *TCPChannel, 1)
	go func() {
		ch, _ := ln.Accept()
		accepted <- ch
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewTCPChannel(conn)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	if err := client.Send(NewMessage(nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := server.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(got.Parts) != 0 {
		t.Fatalf("expected 0 parts, got %d", len(got.Parts))
	}
}
