package limits

import (
	"errors"
	"testing"

	"github.com/pion/srtp/v2"
)

// TestSRTCPOverheadMatchesPion verifies that SRTCPOverhead matches the trailer
// pion/srtp appends when protecting an RTCP packet.
func TestSRTCPOverheadMatchesPion(t *testing.T) {
	key := make([]byte, 16)
	salt := make([]byte, 14)
	ctx, err := srtp.CreateContext(key, salt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		t.Fatalf("Failed to create SRTP context: %v", err)
	}

	// Minimal receiver report: header + SSRC.
	plain := []byte{0x80, 201, 0x00, 0x01, 0xde, 0xad, 0xbe, 0xef}
	protected, err := ctx.EncryptRTCP(nil, plain, nil)
	if err != nil {
		t.Fatalf("EncryptRTCP failed: %v", err)
	}

	if got := len(protected) - len(plain); got != SRTCPOverhead {
		t.Errorf("SRTCP overhead = %d, want %d", got, SRTCPOverhead)
	}
}

// TestMaxSizesFitDatagram verifies the protected variants never exceed a datagram.
func TestMaxSizesFitDatagram(t *testing.T) {
	if MaxRTCPPacketSize+SRTCPOverhead != MaxDatagramSize {
		t.Errorf("MaxRTCPPacketSize + SRTCPOverhead = %d, want %d", MaxRTCPPacketSize+SRTCPOverhead, MaxDatagramSize)
	}
	if MaxRTPPacketSize+SRTPOverhead != MaxDatagramSize {
		t.Errorf("MaxRTPPacketSize + SRTPOverhead = %d, want %d", MaxRTPPacketSize+SRTPOverhead, MaxDatagramSize)
	}
}

func TestValidatePacketSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		maxSize int
		wantErr error
	}{
		{"empty", 0, 100, ErrPacketEmpty},
		{"at limit", 100, 100, nil},
		{"over limit", 101, 100, ErrPacketTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePacketSize(make([]byte, tt.size), tt.maxSize)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRTCPPacket(t *testing.T) {
	if err := ValidateRTCPPacket([]byte{0x80, 200}); !errors.Is(err, ErrPacketTooSmall) {
		t.Errorf("expected ErrPacketTooSmall, got %v", err)
	}
	if err := ValidateRTCPPacket(make([]byte, 8)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateRTCPPacket(make([]byte, MaxRTCPPacketSize+1)); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestValidateRTPPacket(t *testing.T) {
	if err := ValidateRTPPacket(make([]byte, 11)); !errors.Is(err, ErrPacketTooSmall) {
		t.Errorf("expected ErrPacketTooSmall, got %v", err)
	}
	if err := ValidateRTPPacket(make([]byte, 12)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateDatagram(nil); !errors.Is(err, ErrPacketEmpty) {
		t.Errorf("expected ErrPacketEmpty, got %v", err)
	}
}
