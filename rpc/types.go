package rpc

// Envelope is carried by every request per §6: "{processId, partitionId}".
type Envelope struct {
	ProcessID   string
	PartitionID string
}

// RequestStatus is the coarse accept/reject outcome of the idempotent
// connection-management calls.
type RequestStatus int

const (
	StatusOK RequestStatus = iota
	StatusError
)

// PartitionInfo is the scheduler's view of the partition (§3):
// immutable at run start.
type PartitionInfo struct {
	PartitionID      string
	SenderIDList     []string
	ExpectedContribs int
}

// UpdateResult is StfSenderStfUpdate's outcome (§6).
type UpdateResult int

const (
	ResultNotReady UpdateResult = iota
	ResultAssigned
	ResultBackoff
	ResultFailed
)

func (r UpdateResult) String() string {
	switch r {
	case ResultNotReady:
		return "NotReady"
	case ResultAssigned:
		return "Assigned"
	case ResultBackoff:
		return "Backoff"
	case ResultFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

//
// NumStfSendersInPartition
//

type NumSendersRequest struct{ Envelope Envelope }

type NumSendersResponse struct{ NumSenders uint32 }

//
// TfBuilderConnectionRequest
//

type BuilderConnectRequest struct {
	Envelope  Envelope
	BuilderID string
	Endpoint  string
	Capacity  uint32
}

type BuilderConnectResponse struct {
	Status    RequestStatus
	Partition PartitionInfo
}

//
// TfBuilderDisconnectionRequest
//

type BuilderDisconnectRequest struct {
	Envelope  Envelope
	BuilderID string
}

type BuilderDisconnectResponse struct{ Status RequestStatus }

//
// TfBuilderUpdate (heartbeat)
//

type BuilderUpdateRequest struct {
	Envelope      Envelope
	BuilderID     string
	FreeBuffers   uint32
	Load          float32
	InFlightTFIDs []uint64 // TFIDs the builder still holds as of this heartbeat
}

type BuilderUpdateResponse struct{}

//
// StfSenderStfUpdate
//

type StfUpdateRequest struct {
	Envelope Envelope
	SenderID string
	TFID     uint64
	Bytes    uint64
}

type StfUpdateResponse struct {
	Result          UpdateResult
	BuilderEndpoint string
}

//
// StfSenderStfSendFailed
//
// Not part of spec.md §6's wire-RPC table, which is silent on how a
// sender conveys a failed delivery to an assigned builder back to the
// scheduler. The original StfSender has no equivalent RPC either
// (StfSenderDevice.cxx never reports delivery failures upstream); this
// supplements that gap so §4.6 rule 4 and §7's BuilderUnreachable path
// have a concrete wire method, shaped like StfSenderStfUpdate.
//

type StfSendFailedRequest struct {
	Envelope Envelope
	SenderID string
	TFID     uint64
}

type StfSendFailedResponse struct{ Status RequestStatus }
