package secure

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/dtls/v2"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v2"
	"github.com/sirupsen/logrus"
)

// Transport is the secure transform a session handler consults before
// sending or after receiving RTCP.
type Transport interface {
	IsHandshakeComplete() bool
	EncodeRTCP(data []byte) ([]byte, error)
	DecodeRTCP(data []byte) ([]byte, error)
}

// SRTPTransport protects RTP and RTCP with SRTP/SRTCP once keyed.
type SRTPTransport struct {
	mu       sync.Mutex
	local    *srtp.Context
	remote   *srtp.Context
	profile  srtp.ProtectionProfile
	complete atomic.Bool
}

// NewSRTPTransport creates an unkeyed transform.
func NewSRTPTransport() *SRTPTransport {
	return &SRTPTransport{}
}

// IsHandshakeComplete reports whether the transform has been keyed.
func (t *SRTPTransport) IsHandshakeComplete() bool {
	return t.complete.Load()
}

// Profile returns the negotiated protection profile.
func (t *SRTPTransport) Profile() srtp.ProtectionProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile
}

// Complete keys the transform.
func (t *SRTPTransport) Complete(keys Keys) error {
	local, err := srtp.CreateContext(keys.Session.LocalMasterKey, keys.Session.LocalMasterSalt, keys.Profile)
	if err != nil {
		return fmt.Errorf("create local srtp context: %w", err)
	}
	remote, err := srtp.CreateContext(keys.Session.RemoteMasterKey, keys.Session.RemoteMasterSalt, keys.Profile,
		srtp.SRTPReplayProtection(64), srtp.SRTCPReplayProtection(64))
	if err != nil {
		return fmt.Errorf("create remote srtp context: %w", err)
	}

	t.mu.Lock()
	t.local = local
	t.remote = remote
	t.profile = keys.Profile
	t.mu.Unlock()
	t.complete.Store(true)

	logrus.WithFields(logrus.Fields{
		"function": "SRTPTransport.Complete",
		"profile":  fmt.Sprintf("%#x", uint16(keys.Profile)),
	}).Debug("SRTP transform keyed")

	return nil
}

// CompleteFromExporter keys the transform from DTLS exported keying material.
func (t *SRTPTransport) CompleteFromExporter(exporter srtp.KeyingMaterialExporter, profile srtp.ProtectionProfile, isClient bool) error {
	config := &srtp.Config{Profile: profile}
	if err := config.ExtractSessionKeysFromDTLS(exporter, isClient); err != nil {
		return fmt.Errorf("extract srtp keys: %w", err)
	}
	return t.Complete(Keys{Profile: profile, Session: config.Keys})
}

// CompleteFromDTLS keys the transform from an established DTLS association.
func (t *SRTPTransport) CompleteFromDTLS(conn *dtls.Conn, isClient bool) error {
	negotiated, ok := conn.SelectedSRTPProtectionProfile()
	if !ok {
		return ErrNoSRTPProfile
	}

	var profile srtp.ProtectionProfile
	switch negotiated {
	case dtls.SRTP_AES128_CM_HMAC_SHA1_80:
		profile = srtp.ProtectionProfileAes128CmHmacSha1_80
	case dtls.SRTP_AEAD_AES_128_GCM:
		profile = srtp.ProtectionProfileAeadAes128Gcm
	default:
		return fmt.Errorf("%w: %#x", ErrUnsupportedProfile, uint16(negotiated))
	}

	state := conn.ConnectionState()
	return t.CompleteFromExporter(&state, profile, isClient)
}

// Reset drops the keys; the transform is incomplete again.
func (t *SRTPTransport) Reset() {
	t.complete.Store(false)
	t.mu.Lock()
	t.local = nil
	t.remote = nil
	t.mu.Unlock()
}

func (t *SRTPTransport) contexts() (local, remote *srtp.Context, err error) {
	if !t.complete.Load() {
		return nil, nil, ErrHandshakeIncomplete
	}
	if t.local == nil || t.remote == nil {
		return nil, nil, ErrHandshakeIncomplete
	}
	return t.local, t.remote, nil
}

// EncodeRTCP encrypts a compound RTCP packet into SRTCP.
func (t *SRTPTransport) EncodeRTCP(data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	local, _, err := t.contexts()
	if err != nil {
		return nil, err
	}
	return local.EncryptRTCP(nil, data, nil)
}

// DecodeRTCP authenticates and decrypts an SRTCP packet.
func (t *SRTPTransport) DecodeRTCP(data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, remote, err := t.contexts()
	if err != nil {
		return nil, err
	}
	return remote.DecryptRTCP(nil, data, nil)
}

// EncodeRTP encrypts an RTP packet into SRTP.
func (t *SRTPTransport) EncodeRTP(data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	local, _, err := t.contexts()
	if err != nil {
		return nil, err
	}
	header := &rtp.Header{}
	return local.EncryptRTP(nil, data, header)
}

// DecodeRTP authenticates and decrypts an SRTP packet.
func (t *SRTPTransport) DecodeRTP(data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, remote, err := t.contexts()
	if err != nil {
		return nil, err
	}
	header := &rtp.Header{}
	return remote.DecryptRTP(nil, data, header)
}
