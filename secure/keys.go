package secure

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/pion/srtp/v2"
	"golang.org/x/crypto/hkdf"
)

// Keys are the SRTP master keys of both directions.
type Keys struct {
	Profile srtp.ProtectionProfile
	Session srtp.SessionKeys
}

// profileLengths returns the master key and master salt lengths of p.
func profileLengths(p srtp.ProtectionProfile) (keyLen, saltLen int, err error) {
	switch p {
	case srtp.ProtectionProfileAes128CmHmacSha1_80:
		return 16, 14, nil
	case srtp.ProtectionProfileAeadAes128Gcm:
		return 16, 12, nil
	default:
		return 0, 0, fmt.Errorf("%w: %#x", ErrUnsupportedProfile, uint16(p))
	}
}

// DeriveKeys expands secret with HKDF-SHA256 into master keys laid out as
// RFC 5764 section 4.2 does for DTLS export: client key, server key, client
// salt, server salt. Both peers derive the same material and isClient picks
// which half is local.
func DeriveKeys(secret []byte, label string, profile srtp.ProtectionProfile, isClient bool) (Keys, error) {
	if len(secret) == 0 {
		return Keys{}, ErrEmptySecret
	}

	keyLen, saltLen, err := profileLengths(profile)
	if err != nil {
		return Keys{}, err
	}

	material := make([]byte, 2*keyLen+2*saltLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(label)), material); err != nil {
		return Keys{}, fmt.Errorf("hkdf expand: %w", err)
	}

	return splitMaterial(material, keyLen, saltLen, profile, isClient), nil
}

func splitMaterial(material []byte, keyLen, saltLen int, profile srtp.ProtectionProfile, isClient bool) Keys {
	clientKey := material[:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen:]

	keys := Keys{Profile: profile}
	if isClient {
		keys.Session = srtp.SessionKeys{
			LocalMasterKey:   clientKey,
			LocalMasterSalt:  clientSalt,
			RemoteMasterKey:  serverKey,
			RemoteMasterSalt: serverSalt,
		}
	} else {
		keys.Session = srtp.SessionKeys{
			LocalMasterKey:   serverKey,
			LocalMasterSalt:  serverSalt,
			RemoteMasterKey:  clientKey,
			RemoteMasterSalt: clientSalt,
		}
	}
	return keys
}
