package pipeline

import (
	"fmt"
	"net"

	"github.com/pion/stun"
	"github.com/sirupsen/logrus"
)

// DefaultSTUNPriority places STUN ahead of media handlers.
const DefaultSTUNPriority = 100

// STUNHandler answers STUN binding requests received on the shared socket,
// as used for NAT keepalives and consent freshness checks.
type STUNHandler struct {
	priority int
	software string
}

// NewSTUNHandler creates a binding responder. software is advertised in the
// SOFTWARE attribute when not empty.
func NewSTUNHandler(priority int, software string) *STUNHandler {
	return &STUNHandler{priority: priority, software: software}
}

// CanHandle accepts datagrams carrying the STUN magic cookie.
func (h *STUNHandler) CanHandle(data []byte) bool {
	return stun.IsMessage(data)
}

// Priority implements Handler.
func (h *STUNHandler) Priority() int {
	return h.priority
}

// Handle replies to binding requests with the XOR-mapped remote address.
// Other STUN messages are ignored.
func (h *STUNHandler) Handle(data []byte, local, remote net.Addr) ([]byte, error) {
	req := &stun.Message{Raw: append([]byte(nil), data...)}
	if err := req.Decode(); err != nil {
		return nil, fmt.Errorf("decode stun message: %w", err)
	}

	if req.Type != stun.BindingRequest {
		logrus.WithFields(logrus.Fields{
			"function": "STUNHandler.Handle",
			"type":     req.Type.String(),
			"remote":   remote,
		}).Debug("Ignoring non binding STUN message")
		return nil, nil
	}

	udpAddr, ok := remote.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("stun binding from non UDP address %v", remote)
	}

	setters := []stun.Setter{
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port},
	}
	if h.software != "" {
		setters = append(setters, stun.NewSoftware(h.software))
	}
	setters = append(setters, stun.Fingerprint)

	resp, err := stun.Build(setters...)
	if err != nil {
		return nil, fmt.Errorf("build stun response: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "STUNHandler.Handle",
		"remote":   remote,
		"local":    local,
	}).Trace("Answered STUN binding request")

	return resp.Raw, nil
}
