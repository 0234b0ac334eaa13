// Package tdclient implements the Template Distribution client side of the
// mining server: it decodes upstream Template Provider messages, converts
// them into the coordinator's local template/prev-hash representation, and
// forwards the coordinator's outbound frames (SetCoinbaseOutputConstraints
// on startup, SubmitSolution on block discovery) back upstream.
package tdclient

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/pleblottery/pleblottery/internal/bitcoin"
	"github.com/pleblottery/pleblottery/internal/coordinator"
	"github.com/pleblottery/pleblottery/internal/sv2/binary"
)

// Handler bridges decoded Template Distribution messages into
// MiningCoordinator calls. It holds no channel/job state of its own; the
// coordinator is the sole owner of that.
type Handler struct {
	coord *coordinator.MiningCoordinator

	// currentHeight is tracked purely for operator visibility (spec §9):
	// BIP34 decode failures never block template processing.
	currentHeight uint64
}

// NewHandler wires a Template Distribution handler around a coordinator.
func NewHandler(coord *coordinator.MiningCoordinator) *Handler {
	return &Handler{coord: coord}
}

// StartupFrame returns the SetCoinbaseOutputConstraints frame this handler
// must emit once, immediately after the Template Distribution connection is
// established (spec §4.3 startup contract).
func (h *Handler) StartupFrame() []byte {
	return h.coord.CoinbaseOutputConstraintsFrame()
}

// HandleNewTemplate processes an upstream NewTemplate message: it tracks
// the current block height informationally, then forwards the template
// into the coordinator.
func (h *Handler) HandleNewTemplate(msg *binary.NewTemplate) coordinator.Outcome {
	if height, ok := bitcoin.DecodeBIP34Height([]byte(msg.CoinbasePrefix)); ok {
		var current uint64
		if height > 0 {
			current = height - 1 // the template proposes the *next* block
		}
		if old := atomic.SwapUint64(&h.currentHeight, current); old != current {
			log.Printf("block height: %d", current)
		}
	}

	tmpl := coordinator.TemplateFromWire(msg)
	return h.coord.OnNewTemplate(tmpl)
}

// HandleSetNewPrevHash processes an upstream Template-Distribution-variant
// SetNewPrevHash message, forwarding the activation into the coordinator.
func (h *Handler) HandleSetNewPrevHash(msg *binary.SetNewPrevHashTD) coordinator.Outcome {
	activation := coordinator.PrevHashActivationFromWire(msg)
	return h.coord.OnSetNewPrevHash(activation)
}

// HandleRequestTransactionDataSuccess is never expected: this role never
// issues RequestTransactionData. A fatal outcome surfaces a Template
// Provider that doesn't honor the startup contract.
func (h *Handler) HandleRequestTransactionDataSuccess(msg *binary.RequestTransactionDataSuccess) coordinator.Outcome {
	return coordinator.Fatal(fmt.Errorf("unexpected request-transaction-data-success for template %d", msg.TemplateID))
}

// HandleRequestTransactionDataError is never expected, for the same reason
// as HandleRequestTransactionDataSuccess.
func (h *Handler) HandleRequestTransactionDataError(msg *binary.RequestTransactionDataError) coordinator.Outcome {
	return coordinator.Fatal(fmt.Errorf("unexpected request-transaction-data-error for template %d: %s", msg.TemplateID, msg.ErrorCode))
}

// BuildSubmitSolutionFrame renders a SubmitSolutionEvent raised by the
// coordinator's SendToSibling outcome into the wire frame this client sends
// upstream.
func BuildSubmitSolutionFrame(event *coordinator.SubmitSolutionEvent) []byte {
	return coordinator.SubmitSolutionFrame(event)
}

// UpstreamFrames walks a mining-coordinator Outcome and renders every
// SubmitSolution event it carries into a wire frame for this client to send
// upstream. Outcomes directed at downstream clients are ignored here; the
// mining-side transport handles those.
func UpstreamFrames(o coordinator.Outcome) [][]byte {
	var frames [][]byte
	o.Walk(nil, nil, func(event coordinator.SiblingEvent) {
		if event.Kind != coordinator.EventSubmitSolution {
			return
		}
		if solution, ok := event.Payload.(*coordinator.SubmitSolutionEvent); ok {
			frames = append(frames, BuildSubmitSolutionFrame(solution))
		}
	}, nil)
	return frames
}
