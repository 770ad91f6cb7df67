package rtcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanHandle(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{name: "Sender report", data: []byte{0x80, 200, 0x00, 0x06}, expected: true},
		{name: "Receiver report with one block", data: []byte{0x81, 201, 0x00, 0x07}, expected: true},
		{name: "RTP payload type 0", data: []byte{0x80, 0, 0x12, 0x34}, expected: false},
		{name: "Padded first packet", data: []byte{0xA0, 200, 0x00, 0x06}, expected: false},
		{name: "SDES first", data: []byte{0x81, 202, 0x00, 0x02}, expected: false},
		{name: "BYE first", data: []byte{0x81, 203, 0x00, 0x01}, expected: false},
		{name: "Version 1", data: []byte{0x40, 200, 0x00, 0x06}, expected: false},
		{name: "DTLS record", data: []byte{22, 254, 253}, expected: false},
		{name: "Above RTP range", data: []byte{0xC0, 200}, expected: false},
		{name: "Single byte", data: []byte{0x80}, expected: false},
		{name: "Empty", data: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanHandle(tt.data))
		})
	}
}
