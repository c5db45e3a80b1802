package builder

import (
	"fmt"
	"sync"
	"time"

	"github.com/ironMann/DataDistribution/rdh"
	"github.com/ironMann/DataDistribution/stfmodel"
)

// DefaultStaleTimeout is the staleness window after which an STF with
// no new fragments is finalized even without an explicit end-of-TF
// marker (Open Question decision 1).
const DefaultStaleTimeout = 2 * time.Second

// InputInterface assembles per-TFID STFs from a stream of readout
// fragments, finalizing each one on the earlier of an explicit
// end-of-TF marker or DefaultStaleTimeout since its last fragment
// (§4.3 "Finalization").
type InputInterface struct {
	mu            sync.Mutex
	pending       map[stfmodel.TFID]*pendingTF
	staleTimeout  time.Duration
	rdhCheck      rdh.SanityCheckMode
	filterEmptyV4 bool
	onFinalize    func(*stfmodel.STF)
	onDrop        func()
}

type pendingTF struct {
	stf   *stfmodel.STF
	timer *time.Timer
}

// NewInputInterface constructs an InputInterface that calls onFinalize
// exactly once per TFID, the moment it finalizes. check and
// filterEmptyV4 configure the RDH codec module applied to every raw
// fragment before it reaches STF.Append (§4.3, §4.7, §9 "codec config
// threaded from init to receiver"); onDrop, if non-nil, is called once
// per fragment the codec rejects.
func NewInputInterface(staleTimeout time.Duration, check rdh.SanityCheckMode, filterEmptyV4 bool, onFinalize func(*stfmodel.STF), onDrop func()) *InputInterface {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &InputInterface{
		pending:       make(map[stfmodel.TFID]*pendingTF),
		staleTimeout:  staleTimeout,
		rdhCheck:      check,
		filterEmptyV4: filterEmptyV4,
		onFinalize:    onFinalize,
		onDrop:        onDrop,
	}
}

// PushFragment runs raw (an RDH header followed by its detector
// payload) through the configured sanity check and empty-trigger
// filter, extracts its subspec, and appends the remaining payload to
// the STF under construction for tfid, creating it on first sight and
// resetting the staleness timer. Fragments rejected by the codec are
// dropped without finalizing or erroring the TFID they belong to.
func (ii *InputInterface) PushFragment(tfid stfmodel.TFID, origin stfmodel.Origin, id stfmodel.DataIdentifier, raw []byte) error {
	if !ii.rdhCheck.Sanitize(raw) {
		ii.drop()
		return fmt.Errorf("builder: fragment for TFID %d failed RDH sanity check", tfid)
	}
	if rdh.FilterEmptyTriggerV4(raw, ii.filterEmptyV4) {
		ii.drop()
		return nil
	}
	sub, err := rdh.ExtractSubSpec(raw)
	if err != nil {
		ii.drop()
		return fmt.Errorf("builder: fragment for TFID %d: %w", tfid, err)
	}
	payload := raw[rdh.HeaderSize:]

	ii.mu.Lock()
	p, ok := ii.pending[tfid]
	if !ok {
		p = &pendingTF{stf: stfmodel.New(tfid, origin)}
		ii.pending[tfid] = p
		p.timer = time.AfterFunc(ii.staleTimeout, func() { ii.finalize(tfid) })
	} else {
		p.timer.Reset(ii.staleTimeout)
	}
	stf := p.stf
	ii.mu.Unlock()

	return stf.Append(id, stfmodel.SubSpec(sub), payload)
}

func (ii *InputInterface) drop() {
	if ii.onDrop != nil {
		ii.onDrop()
	}
}

// EndOfTF finalizes tfid immediately on the explicit end-of-TF marker,
// racing the staleness timer; whichever fires first wins (the other
// is a no-op thanks to the single-finalize guard in finalize).
func (ii *InputInterface) EndOfTF(tfid stfmodel.TFID) {
	ii.finalize(tfid)
}

func (ii *InputInterface) finalize(tfid stfmodel.TFID) {
	ii.mu.Lock()
	p, ok := ii.pending[tfid]
	if !ok {
		ii.mu.Unlock()
		return
	}
	delete(ii.pending, tfid)
	ii.mu.Unlock()

	p.timer.Stop()
	p.stf.Finalize()
	ii.onFinalize(p.stf)
}

// NumPending reports how many TFIDs are currently under construction.
func (ii *InputInterface) NumPending() int {
	ii.mu.Lock()
	defer ii.mu.Unlock()
	return len(ii.pending)
}
